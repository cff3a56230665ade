// Command gateway runs a lightweight mock AR.IO gateway for E2E and load
// testing without touching the live network.
//
// It serves a deterministic in-memory content set:
//
//	GET  /{txId}                — payload bytes (any sandbox subdomain)
//	HEAD /{txId}                — headers only, including X-AR-IO-Digest
//	GET  /tx/{id}/offset        — absolute end offset + size (decimal JSON)
//	GET  /tx/{id}/data_root     — merkle data root (base64url text)
//	GET  /chunk/{offset}/data   — one chunk with the chunk headers
//	POST /graphql               — bundledIn classifier stub
//
// Behaviour flags (via env):
//
//	PORT             — listen port (default 19084)
//	MOCK_LATENCY_MS  — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE  — fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_CHUNK_SIZE  — chunk size served by the chunk endpoint (default 65536)
package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/ar-io/wayfinder-go/internal/verification/merkle"
)

// Config holds runtime configuration for the mock gateway.
type Config struct {
	Port      string
	LatencyMS int
	ErrorRate float64
	ChunkSize int
}

func loadConfig() Config {
	c := Config{Port: "19084", ChunkSize: 64 * 1024}

	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ChunkSize = n
		}
	}
	return c
}

// item is one hosted payload.
type item struct {
	data        []byte
	contentType string
	digest      string
	dataRoot    string
	bundledIn   string // non-empty marks an ans104 data item
}

// store holds the seeded content set.
type store struct {
	items map[string]*item
}

func newItem(data []byte, contentType, bundledIn string) *item {
	digest := sha256.Sum256(data)
	chunker := merkle.NewChunker()
	chunker.Write(data)
	chunker.Close()
	root := merkle.Root(chunker.Chunks())

	return &item{
		data:        data,
		contentType: contentType,
		digest:      base64.RawURLEncoding.EncodeToString(digest[:]),
		dataRoot:    base64.RawURLEncoding.EncodeToString(root[:]),
		bundledIn:   bundledIn,
	}
}

// seed builds a small deterministic content set: two plain payloads, one
// bundled item and a manifest referencing the plain ones.
func seed() *store {
	const (
		txText     = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
		txBlob     = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
		txBundled  = "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
		txManifest = "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD"
	)

	blob := make([]byte, 3*merkle.MaxChunkSize+12345)
	for i := range blob {
		blob[i] = byte(i * 31)
	}

	manifest := fmt.Sprintf(`{
  "manifest": "arweave/paths",
  "version": "0.1.0",
  "index": {"path": "hello.txt"},
  "paths": {
    "hello.txt": {"id": %q},
    "blob.bin":  {"id": %q}
  }
}`, txText, txBlob)

	return &store{items: map[string]*item{
		txText:     newItem([]byte("hello from the mock gateway\n"), "text/plain", ""),
		txBlob:     newItem(blob, "application/octet-stream", ""),
		txBundled:  newItem([]byte("bundled bytes"), "application/octet-stream", "EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE"),
		txManifest: newItem([]byte(manifest), "application/x.arweave-manifest+json", ""),
	}}
}

type server struct {
	cfg   Config
	store *store
	log   *slog.Logger
}

func main() {
	cfg := loadConfig()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	s := &server{cfg: cfg, store: seed(), log: log}

	r := router.New()
	r.GET("/tx/{id}/offset", s.withChaos(s.handleOffset))
	r.GET("/tx/{id}/data_root", s.withChaos(s.handleDataRoot))
	r.GET("/chunk/{offset}/data", s.withChaos(s.handleChunk))
	r.POST("/graphql", s.withChaos(s.handleGraphQL))
	// Any other single-segment path is a content request by txId.
	r.NotFound = s.withChaos(s.handleContent)

	addr := ":" + cfg.Port
	log.Info("mock gateway listening",
		slog.String("addr", addr),
		slog.Int("items", len(s.store.items)),
	)
	if err := fasthttp.ListenAndServe(addr, r.Handler); err != nil {
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// withChaos applies the configured latency and error rate.
func (s *server) withChaos(h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if s.cfg.LatencyMS > 0 {
			time.Sleep(time.Duration(s.cfg.LatencyMS) * time.Millisecond)
		}
		if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
			ctx.Error("injected failure", fasthttp.StatusInternalServerError)
			return
		}
		h(ctx)
	}
}

func (s *server) handleContent(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	if method != fasthttp.MethodGet && method != fasthttp.MethodHead {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	txID := strings.Trim(string(ctx.Path()), "/")
	it, ok := s.store.items[txID]
	if !ok {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}

	ctx.Response.Header.Set("Content-Type", it.contentType)
	ctx.Response.Header.Set("Content-Length", strconv.Itoa(len(it.data)))
	ctx.Response.Header.Set("X-AR-IO-Digest", it.digest)
	ctx.Response.Header.Set("X-AR-IO-Verified", "true")
	ctx.Response.Header.Set("X-AR-IO-Root-Transaction-Id", txID)
	ctx.Response.Header.Set("X-AR-IO-Root-Data-Offset", "0")

	if method == fasthttp.MethodHead {
		return
	}
	ctx.SetBody(it.data)
}

func (s *server) handleOffset(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	it, ok := s.store.items[id]
	if !ok {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}

	// Every mock item is its own root starting at absolute offset 0.
	ctx.Response.Header.Set("Content-Type", "application/json")
	resp := map[string]string{
		"offset": strconv.Itoa(len(it.data) - 1),
		"size":   strconv.Itoa(len(it.data)),
	}
	body, _ := json.Marshal(resp)
	ctx.SetBody(body)
}

func (s *server) handleDataRoot(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	it, ok := s.store.items[id]
	if !ok {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.SetBodyString(it.dataRoot)
}

func (s *server) handleChunk(ctx *fasthttp.RequestCtx) {
	offsetStr := ctx.UserValue("offset").(string)
	abs, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil {
		ctx.Error("bad offset", fasthttp.StatusBadRequest)
		return
	}

	// Locate the item whose absolute range covers the offset. Mock items
	// all start at 0, so the offset addresses bytes within each item
	// independently; the first match wins deterministically by id order.
	txID, it := s.itemForOffset(abs)
	if it == nil {
		ctx.Error("no chunk at offset", fasthttp.StatusNotFound)
		return
	}

	chunkSize := int64(s.cfg.ChunkSize)
	chunkIdx := abs / chunkSize
	start := chunkIdx * chunkSize
	end := start + chunkSize
	if end > int64(len(it.data)) {
		end = int64(len(it.data))
	}

	ctx.Response.Header.Set("X-Arweave-Chunk-Tx-Id", txID)
	ctx.Response.Header.Set("X-Arweave-Chunk-Start-Offset", strconv.FormatInt(start, 10))
	ctx.Response.Header.Set("X-Arweave-Chunk-Read-Offset", strconv.FormatInt(abs-start, 10))
	ctx.SetBody(it.data[start:end])
}

func (s *server) itemForOffset(abs int64) (string, *item) {
	var bestID string
	var best *item
	for id, it := range s.store.items {
		if abs < int64(len(it.data)) {
			if best == nil || id < bestID {
				bestID, best = id, it
			}
		}
	}
	return bestID, best
}

func (s *server) handleGraphQL(ctx *fasthttp.RequestCtx) {
	body := string(ctx.PostBody())

	// Pull the first quoted txId out of the ids: [...] list.
	txID := ""
	if i := strings.Index(body, `ids: [\"`); i >= 0 {
		rest := body[i+len(`ids: [\"`):]
		if j := strings.Index(rest, `\"`); j > 0 {
			txID = rest[:j]
		}
	}

	it, ok := s.store.items[txID]
	if !ok {
		ctx.Response.Header.Set("Content-Type", "application/json")
		ctx.SetBodyString(`{"data":{"transactions":{"edges":[]}}}`)
		return
	}

	bundled := "null"
	if it.bundledIn != "" {
		bundled = fmt.Sprintf(`{"id":%q}`, it.bundledIn)
	}
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetBodyString(fmt.Sprintf(
		`{"data":{"transactions":{"edges":[{"node":{"id":%q,"bundledIn":%s}}]}}}`,
		txID, bundled,
	))
}
