package retrieval

import (
	"context"
	"net/http"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// Contiguous issues one streaming GET through the selected gateway.
type Contiguous struct {
	client *http.Client
}

// NewContiguous builds the strategy. client may be nil for a default.
func NewContiguous(client *http.Client) *Contiguous {
	if client == nil {
		client = &http.Client{}
	}
	return &Contiguous{client: client}
}

func (s *Contiguous) Name() string { return "contiguous" }

// GetData fetches the payload in a single request. The response is returned
// as-is — including error statuses — so the caller observes exactly what
// the gateway served.
func (s *Contiguous) GetData(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, RequestURL(req), nil)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "build request", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, wferr.Wrap(wferr.KindRetrievalFailed, "gateway fetch", err)
	}

	return &Response{
		Body:       resp.Body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
	}, nil
}
