package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/rs/zerolog/log"

	svcerr "github.com/nettap/nettapd/internal/errors"
)

// Hit is a single search hit with its decoded source document.
type Hit struct {
	ID     string
	Index  string
	Source map[string]any
}

// Result is a decoded search response.
type Result struct {
	Total        int
	Hits         []Hit
	Aggregations map[string]json.RawMessage
}

// CatIndex is one row of the _cat/indices listing.
type CatIndex struct {
	Name         string `json:"index"`
	StoreSize    string `json:"store.size"`
	SizeBytes    int64  `json:"-"`
	CreationDate string `json:"creation.date"`
}

// ClusterInfo is the subset of the root endpoint the daemon uses.
type ClusterInfo struct {
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// Searcher is the query surface shared by every subsystem that reads
// telemetry. The concrete client and the test fakes both implement it.
type Searcher interface {
	Search(ctx context.Context, index string, body M) (*Result, error)
	CatIndices(ctx context.Context) ([]CatIndex, error)
	DeleteIndex(ctx context.Context, name string) error
	Info(ctx context.Context) (*ClusterInfo, error)
}

// Client wraps the OpenSearch HTTP client with typed operations and a
// bounded retry policy.
type Client struct {
	os      *opensearch.Client
	timeout time.Duration
}

// NewClient connects to the OpenSearch endpoint. The connection is
// lazy; a down server surfaces on the first call.
func NewClient(url string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &Client{os: osClient, timeout: timeout}, nil
}

// Search executes a query body against an index pattern.
func (c *Client) Search(ctx context.Context, index string, body M) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var raw []byte
	err = c.withRetry(ctx, func(callCtx context.Context) error {
		req := opensearchapi.SearchRequest{
			Index: []string{index},
			Body:  bytes.NewReader(payload),
		}
		res, err := req.Do(callCtx, c.os)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("search %s: status %s", index, res.Status())
		}
		raw, err = io.ReadAll(res.Body)
		return err
	})
	if err != nil {
		return nil, svcerr.Downstream("search", err)
	}

	return decodeSearchResponse(raw)
}

// CatIndices lists non-system indices with their sizes.
func (c *Client) CatIndices(ctx context.Context) ([]CatIndex, error) {
	var raw []byte
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		req := opensearchapi.CatIndicesRequest{
			Format: "json",
			H:      []string{"index", "store.size", "creation.date"},
			S:      []string{"index"},
			Bytes:  "b",
		}
		res, err := req.Do(callCtx, c.os)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("cat indices: status %s", res.Status())
		}
		raw, err = io.ReadAll(res.Body)
		return err
	})
	if err != nil {
		return nil, svcerr.Downstream("cat_indices", err)
	}

	var rows []struct {
		Index        string `json:"index"`
		StoreSize    string `json:"store.size"`
		CreationDate string `json:"creation.date"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, svcerr.Downstream("cat_indices", fmt.Errorf("decode: %w", err))
	}

	out := make([]CatIndex, 0, len(rows))
	for _, row := range rows {
		entry := CatIndex{
			Name:         row.Index,
			StoreSize:    row.StoreSize,
			CreationDate: row.CreationDate,
		}
		entry.SizeBytes = parseSizeBytes(row.StoreSize)
		out = append(out, entry)
	}
	return out, nil
}

// DeleteIndex removes an index. Deleting an already-absent index is an
// error surfaced to the caller; the pruner logs and continues.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		req := opensearchapi.IndicesDeleteRequest{Index: []string{name}}
		res, err := req.Do(callCtx, c.os)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("delete index %s: status %s", name, res.Status())
		}
		return nil
	})
	if err != nil {
		return svcerr.Downstream("delete_index", err)
	}
	return nil
}

// Info returns cluster name and version.
func (c *Client) Info(ctx context.Context) (*ClusterInfo, error) {
	var info ClusterInfo
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		req := opensearchapi.InfoRequest{}
		res, err := req.Do(callCtx, c.os)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("info: status %s", res.Status())
		}
		return json.NewDecoder(res.Body).Decode(&info)
	})
	if err != nil {
		return nil, svcerr.Downstream("info", err)
	}
	return &info, nil
}

// PutILMPolicy installs an ISM/ILM policy document by name.
func (c *Client) PutILMPolicy(ctx context.Context, name string, policy M) error {
	payload, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal ilm policy: %w", err)
	}
	err = c.withRetry(ctx, func(callCtx context.Context) error {
		res, err := c.os.Perform(newPolicyRequest(callCtx, name, payload))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 400 {
			return fmt.Errorf("put ilm policy %s: status %d", name, res.StatusCode)
		}
		return nil
	})
	if err != nil {
		return svcerr.Downstream("put_ilm_policy", err)
	}
	return nil
}

// withRetry runs an OpenSearch call with a per-attempt timeout and up
// to three attempts with exponential backoff.
func (c *Client) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := op(callCtx); err != nil {
			if attempt > 1 {
				log.Debug().Err(err).Int("attempt", attempt).Msg("OpenSearch call retrying")
			}
			return err
		}
		return nil
	}, policy)
}

func decodeSearchResponse(raw []byte) (*Result, error) {
	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string         `json:"_id"`
				Index  string         `json:"_index"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, svcerr.Downstream("search", fmt.Errorf("decode response: %w", err))
	}

	result := &Result{
		Total:        resp.Hits.Total.Value,
		Aggregations: resp.Aggregations,
		Hits:         make([]Hit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		result.Hits = append(result.Hits, Hit{ID: h.ID, Index: h.Index, Source: h.Source})
	}
	return result, nil
}

func parseSizeBytes(value string) int64 {
	var n int64
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return 0
	}
	return n
}
