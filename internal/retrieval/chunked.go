package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Chunked reassembles a payload from chunk endpoints by absolute offset.
//
// It serves identifiers whose payload lives inside a larger root
// transaction at a relative offset: a HEAD reveals the root transaction id
// and the relative data offset, /tx/{root}/offset anchors the root's
// absolute position, and the chunk endpoint is walked from there until
// Content-Length bytes have been produced.
type Chunked struct {
	client *http.Client
}

// NewChunked builds the strategy. client may be nil for a default.
func NewChunked(client *http.Client) *Chunked {
	if client == nil {
		client = &http.Client{}
	}
	return &Chunked{client: client}
}

func (s *Chunked) Name() string { return "chunked" }

// txOffset is the /tx/{id}/offset response. Offsets are decimal strings
// because payloads can exceed 4 GiB.
type txOffset struct {
	Offset string `json:"offset"`
	Size   string `json:"size"`
}

// GetData reassembles the payload. The returned body streams chunk slices
// as they arrive; a failure mid-loop errors the stream, so the consumer
// observes a truncated read rather than silently short data.
func (s *Chunked) GetData(ctx context.Context, req Request) (*Response, error) {
	requestURL := RequestURL(req)

	head, err := s.headMetadata(ctx, requestURL, req.Headers)
	if err != nil {
		return nil, err
	}
	if head.statusCode >= 400 {
		return &Response{
			Body:       http.NoBody,
			Headers:    head.headers,
			StatusCode: head.statusCode,
		}, nil
	}

	rootStart, err := s.rootStart(ctx, req, head.rootTxID)
	if err != nil {
		return nil, err
	}

	start := rootStart + head.relativeOffset

	pr, pw := io.Pipe()
	go s.pump(ctx, req, pw, head, start)

	return &Response{
		Body:       pr,
		Headers:    head.headers,
		StatusCode: http.StatusOK,
	}, nil
}

type headMetadata struct {
	headers        http.Header
	statusCode     int
	rootTxID       string
	relativeOffset int64
	contentLength  int64
}

// headMetadata fetches the item headers that anchor the chunk walk.
func (s *Chunked) headMetadata(ctx context.Context, requestURL string, extra http.Header) (*headMetadata, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, requestURL, nil)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "build head request", err)
	}
	for k, vs := range extra {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "head request", err)
	}
	defer resp.Body.Close()

	md := &headMetadata{headers: resp.Header, statusCode: resp.StatusCode}
	if resp.StatusCode >= 400 {
		return md, nil
	}

	md.rootTxID = resp.Header.Get(HeaderRootTxID)
	if md.rootTxID == "" {
		return nil, wferr.Newf(wferr.KindRetrievalFailed, "gateway did not return %s", HeaderRootTxID)
	}

	if v := resp.Header.Get(HeaderRootDataOffset); v != "" {
		md.relativeOffset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, wferr.Wrap(wferr.KindRetrievalFailed, "parse root data offset", err)
		}
	}

	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return nil, wferr.New(wferr.KindRetrievalFailed, "gateway did not return Content-Length")
	}
	md.contentLength, err = strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "parse content length", err)
	}

	return md, nil
}

// rootStart resolves the absolute start offset of the root transaction.
func (s *Chunked) rootStart(ctx context.Context, req Request, rootTxID string) (int64, error) {
	u := *req.Gateway
	u.Path = "/tx/" + rootTxID + "/offset"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, wferr.Wrap(wferr.KindRetrievalFailed, "build offset request", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, wferr.Wrap(wferr.KindRetrievalFailed, "offset request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, wferr.Newf(wferr.KindRetrievalFailed, "offset endpoint status %d", resp.StatusCode)
	}

	var off txOffset
	if err := json.NewDecoder(resp.Body).Decode(&off); err != nil {
		return 0, wferr.Wrap(wferr.KindRetrievalFailed, "decode offset", err)
	}

	endOffset, err := strconv.ParseInt(off.Offset, 10, 64)
	if err != nil {
		return 0, wferr.Wrap(wferr.KindRetrievalFailed, "parse offset", err)
	}
	size, err := strconv.ParseInt(off.Size, 10, 64)
	if err != nil {
		return 0, wferr.Wrap(wferr.KindRetrievalFailed, "parse size", err)
	}

	return endOffset - size + 1, nil
}

// pump walks the chunk endpoint and feeds the pipe until contentLength
// bytes have been written.
func (s *Chunked) pump(ctx context.Context, req Request, pw *io.PipeWriter, head *headMetadata, start int64) {
	var (
		remaining = head.contentLength
		current   = start
	)

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			pw.CloseWithError(wferr.Wrap(wferr.KindCancelled, "chunk fetch cancelled", err))
			return
		}

		chunk, err := s.fetchChunk(ctx, req, current)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if chunk.txID != head.rootTxID {
			pw.CloseWithError(wferr.Newf(wferr.KindChunkMismatch,
				"chunk at offset %d belongs to %s, expected %s", current, chunk.txID, head.rootTxID))
			return
		}

		data := chunk.data
		if chunk.readOffset > 0 {
			if chunk.readOffset >= int64(len(data)) {
				pw.CloseWithError(wferr.Newf(wferr.KindChunkMismatch,
					"chunk read offset %d beyond chunk of %d bytes", chunk.readOffset, len(data)))
				return
			}
			data = data[chunk.readOffset:]
		}
		if int64(len(data)) > remaining {
			data = data[:remaining]
		}

		if _, err := pw.Write(data); err != nil {
			// Consumer closed its end; nothing more to deliver.
			return
		}

		remaining -= int64(len(data))
		current = chunk.startOffset + int64(len(chunk.data))
	}

	pw.Close()
}

type chunkResult struct {
	data        []byte
	readOffset  int64
	startOffset int64
	txID        string
}

func (s *Chunked) fetchChunk(ctx context.Context, req Request, offset int64) (*chunkResult, error) {
	u := *req.Gateway
	u.Path = fmt.Sprintf("/chunk/%d/data", offset)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "build chunk request", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "chunk request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wferr.Newf(wferr.KindRetrievalFailed, "chunk endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "read chunk", err)
	}

	c := &chunkResult{
		data: body,
		txID: resp.Header.Get(HeaderChunkTxID),
	}

	if v := resp.Header.Get(HeaderChunkReadOffset); v != "" {
		c.readOffset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, wferr.Wrap(wferr.KindRetrievalFailed, "parse chunk read offset", err)
		}
	}
	if v := resp.Header.Get(HeaderChunkStartOffset); v != "" {
		c.startOffset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, wferr.Wrap(wferr.KindRetrievalFailed, "parse chunk start offset", err)
		}
	} else {
		c.startOffset = offset
	}

	return c, nil
}
