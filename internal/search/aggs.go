package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Bucket is one bucket of a terms or date-histogram aggregation, with
// raw sub-aggregations for further decoding.
type Bucket struct {
	Key      any                        `json:"key"`
	KeyAsStr string                     `json:"key_as_string"`
	DocCount int64                      `json:"doc_count"`
	Sub      map[string]json.RawMessage `json:"-"`
}

// KeyString renders the bucket key as a string.
func (b Bucket) KeyString() string {
	if b.KeyAsStr != "" {
		return b.KeyAsStr
	}
	switch v := b.Key.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SumValue decodes a sum sub-aggregation of this bucket, 0 when absent.
func (b Bucket) SumValue(name string) float64 {
	raw, ok := b.Sub[name]
	if !ok {
		return 0
	}
	var v struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v.Value
}

// Buckets decodes a named terms/date-histogram aggregation from a
// search result. Absent or malformed aggregations yield an empty list.
func (r *Result) Buckets(name string) []Bucket {
	raw, ok := r.Aggregations[name]
	if !ok {
		return nil
	}
	var agg struct {
		Buckets []json.RawMessage `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil
	}

	out := make([]Bucket, 0, len(agg.Buckets))
	for _, rawBucket := range agg.Buckets {
		var bucket Bucket
		if err := json.Unmarshal(rawBucket, &bucket); err != nil {
			continue
		}
		var sub map[string]json.RawMessage
		if err := json.Unmarshal(rawBucket, &sub); err == nil {
			delete(sub, "key")
			delete(sub, "key_as_string")
			delete(sub, "doc_count")
			bucket.Sub = sub
		}
		out = append(out, bucket)
	}
	return out
}

// MetricValue decodes a named single-value metric aggregation
// (sum, avg, cardinality) from a search result, 0 when absent.
func (r *Result) MetricValue(name string) float64 {
	raw, ok := r.Aggregations[name]
	if !ok {
		return 0
	}
	var v struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v.Value
}

func newPolicyRequest(ctx context.Context, name string, payload []byte) *http.Request {
	req := &http.Request{
		Method: http.MethodPut,
		URL:    &url.URL{Path: "/_plugins/_ism/policies/" + url.PathEscape(name)},
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   http.NoBody,
	}
	req.Body = noopCloser{strings.NewReader(string(payload))}
	req.ContentLength = int64(len(payload))
	return req.WithContext(ctx)
}

type noopCloser struct {
	*strings.Reader
}

func (noopCloser) Close() error { return nil }
