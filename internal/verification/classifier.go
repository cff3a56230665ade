package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

// DataKind classifies how a payload is stored on the network.
type DataKind string

const (
	// KindTransaction is a plain layer-one transaction with its own data
	// root.
	KindTransaction DataKind = "transaction"

	// KindANS104 is a data item bundled inside another transaction. Such
	// payloads have no data root of their own.
	KindANS104 DataKind = "ans104"
)

// DataClassifier decides whether a payload is bundled. It is an extension
// point: callers with out-of-band knowledge can supply their own.
type DataClassifier interface {
	Classify(ctx context.Context, txID string) (DataKind, error)
}

// GraphQLClassifier asks a gateway's GraphQL endpoint whether the
// transaction is bundled inside another one.
type GraphQLClassifier struct {
	gateway *url.URL
	client  *http.Client
}

// NewGraphQLClassifier builds a classifier against gateway.
func NewGraphQLClassifier(gateway *url.URL, client *http.Client) *GraphQLClassifier {
	if client == nil {
		client = &http.Client{}
	}
	return &GraphQLClassifier{gateway: gateway, client: client}
}

// Classify queries the bundledIn edge for txID.
func (c *GraphQLClassifier) Classify(ctx context.Context, txID string) (DataKind, error) {
	payload, err := json.Marshal(map[string]string{
		"query": fmt.Sprintf(`query { transactions(ids: [%q]) { edges { node { id bundledIn { id } } } } }`, txID),
	})
	if err != nil {
		return "", wferr.Wrap(wferr.KindVerificationFailed, "encode graphql query", err)
	}

	u := *c.gateway
	u.Path = "/graphql"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return "", wferr.Wrap(wferr.KindVerificationFailed, "build graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", wferr.Wrap(wferr.KindVerificationFailed, "graphql request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", wferr.Newf(wferr.KindVerificationFailed, "graphql status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wferr.Wrap(wferr.KindVerificationFailed, "read graphql response", err)
	}
	if !gjson.ValidBytes(body) {
		return "", wferr.New(wferr.KindVerificationFailed, "graphql response is not valid JSON")
	}

	edges := gjson.GetBytes(body, "data.transactions.edges")
	if !edges.Exists() || len(edges.Array()) == 0 {
		return "", wferr.Newf(wferr.KindVerificationFailed, "transaction %s not found", txID)
	}

	bundledIn := gjson.GetBytes(body, "data.transactions.edges.0.node.bundledIn.id")
	if bundledIn.Exists() && bundledIn.String() != "" {
		return KindANS104, nil
	}
	return KindTransaction, nil
}
