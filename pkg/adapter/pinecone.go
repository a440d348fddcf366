package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// VectorIndex queries a remote similarity index. Ordering of matches is
// whatever the backing index returns; no re-ranking happens on this side.
type VectorIndex interface {
	// Query returns at most topK neighbors of vector within namespace.
	// An empty result is not an error.
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]*model.Match, error)

	// DescribeStats reports index-wide stats, used once at startup to
	// verify reachability and vector dimensionality.
	DescribeStats(ctx context.Context) (*model.IndexStats, error)
}

// PineconeClient is a minimal REST client to a Pinecone index data plane.
// host is the index endpoint (e.g. https://citypayroll-xxxx.svc.aped-4627-b74a.pinecone.io).
type PineconeClient struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

type PineconeOption func(*PineconeClient)

func WithPineconeHTTPClient(hc *http.Client) PineconeOption {
	return func(c *PineconeClient) {
		c.httpClient = hc
	}
}

func NewPinecone(host, apiKey string, opts ...PineconeOption) (*PineconeClient, error) {
	if host == "" {
		return nil, goerr.New("index host is required")
	}
	if apiKey == "" {
		return nil, goerr.New("index API key is required")
	}

	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	c := &PineconeClient{
		host:   strings.TrimSuffix(host, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []*model.Match `json:"matches"`
}

func (c *PineconeClient) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]*model.Match, error) {
	if topK < 1 {
		return nil, goerr.New("topK must be at least 1", goerr.V("topK", topK))
	}

	var out queryResponse
	if err := c.post(ctx, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       namespace,
		IncludeMetadata: true,
	}, &out); err != nil {
		return nil, err
	}

	return out.Matches, nil
}

func (c *PineconeClient) DescribeStats(ctx context.Context) (*model.IndexStats, error) {
	var out model.IndexStats
	if err := c.post(ctx, "/describe_index_stats", struct{}{}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *PineconeClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal index request", goerr.V("path", path))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to create index request", goerr.V("path", path))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to call vector index", goerr.V("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return goerr.New("vector index returned non-OK status",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode index response", goerr.V("path", path))
	}

	return nil
}
