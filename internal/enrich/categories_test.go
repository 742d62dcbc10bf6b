package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettap/nettapd/internal/search"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		service  string
		domain   string
		port     int
		expected string
	}{
		{"domain wins", "http", "video.netflix.com", 80, "streaming"},
		{"bare domain matches", "", "netflix.com", 0, "streaming"},
		{"service when domain unknown", "ssh", "example.org", 22, "remote_access"},
		{"port as last resort", "", "", 3389, "remote_access"},
		{"nothing matches", "", "example.org", 9999, "other"},
		{"trailing dot tolerated", "", "www.youtube.com.", 0, "streaming"},
		{"case insensitive domain", "", "WWW.YOUTUBE.COM", 0, "streaming"},
		{"dns service", "dns", "", 53, "infrastructure"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, Classify(tc.service, tc.domain, tc.port))
		})
	}
}

type categoryFake struct {
	responses map[string]*search.Result
}

func (f *categoryFake) Search(ctx context.Context, index string, body search.M) (*search.Result, error) {
	if result, ok := f.responses[index]; ok {
		return result, nil
	}
	return &search.Result{}, nil
}

func (f *categoryFake) CatIndices(ctx context.Context) ([]search.CatIndex, error) {
	return nil, nil
}

func (f *categoryFake) DeleteIndex(ctx context.Context, name string) error { return nil }

func (f *categoryFake) Info(ctx context.Context) (*search.ClusterInfo, error) {
	return &search.ClusterInfo{}, nil
}

func aggResult(t *testing.T, aggName, payload string) *search.Result {
	t.Helper()
	return &search.Result{
		Aggregations: map[string]json.RawMessage{
			aggName: json.RawMessage(payload),
		},
	}
}

func TestCategoryStats(t *testing.T) {
	t.Parallel()

	fake := &categoryFake{responses: map[string]*search.Result{
		dnsIndex: aggResult(t, "queries", `{"buckets": [
			{"key": "video.netflix.com", "doc_count": 40},
			{"key": "www.facebook.com", "doc_count": 10},
			{"key": "unclassified.example", "doc_count": 99}
		]}`),
		connIndex: aggResult(t, "services", `{"buckets": [
			{"key": "https", "doc_count": 200, "bytes": {"value": 1048576}},
			{"key": "ssh", "doc_count": 3, "bytes": {"value": 2048}},
			{"key": "weird", "doc_count": 5, "bytes": {"value": 10}}
		]}`),
	}}

	tr := search.TimeRange{From: time.Now().Add(-time.Hour), To: time.Now()}
	stats := CategoryStats(context.Background(), fake, tr)

	byCategory := map[string]CategoryStat{}
	for _, stat := range stats {
		byCategory[stat.Category] = stat
	}

	require.Contains(t, byCategory, "streaming")
	require.Contains(t, byCategory, "social")
	require.Contains(t, byCategory, "web")
	require.Contains(t, byCategory, "remote_access")
	assert.NotContains(t, byCategory, "other")

	assert.Equal(t, int64(40), byCategory["streaming"].Connections)
	assert.Equal(t, int64(1048576), byCategory["web"].TotalBytes)

	// Sorted by byte volume descending.
	assert.Equal(t, "web", stats[0].Category)
}

func TestCategoryStatsEmptyOnFailure(t *testing.T) {
	t.Parallel()

	fake := &categoryFake{responses: map[string]*search.Result{}}
	tr := search.TimeRange{From: time.Now().Add(-time.Hour), To: time.Now()}
	assert.Empty(t, CategoryStats(context.Background(), fake, tr))
}
