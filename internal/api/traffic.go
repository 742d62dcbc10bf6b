package api

import (
	"net/http"

	"github.com/nettap/nettapd/internal/enrich"
	"github.com/nettap/nettapd/internal/search"
)

// Histogram intervals the bandwidth endpoint accepts.
var allowedIntervals = map[string]bool{
	"1m": true, "5m": true, "15m": true, "1h": true, "1d": true,
}

func (s *Server) handleTrafficSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tr := timeRange(r)

	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{
			"sources":      search.CardinalityAgg("id.orig_h"),
			"destinations": search.CardinalityAgg("id.resp_h"),
			"total_bytes":  search.ScriptedTotalBytesAgg(),
		},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(ctx, connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	// Alert volume is informational; a failed count degrades to zero.
	alertTotal := 0
	alertBody := search.Body{
		Query: search.BoolQuery{Filter: []search.M{
			search.TimeRangeFilter(tr),
			search.Exists("alert"),
		}}.Build(),
		Size: search.IntPtr(0),
	}.Build()
	if alerts, err := s.Search.Search(ctx, alertIndex, alertBody); err == nil {
		alertTotal = alerts.Total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections":         result.Total,
		"unique_sources":      int64(result.MetricValue("sources")),
		"unique_destinations": int64(result.MetricValue("destinations")),
		"total_bytes":         int64(result.MetricValue("total_bytes")),
		"alerts":              alertTotal,
		"from":                tr.From,
		"to":                  tr.To,
	})
}

func (s *Server) handleTopTalkers(w http.ResponseWriter, r *http.Request) {
	s.topEndpoints(w, r, "id.orig_h")
}

func (s *Server) handleTopDestinations(w http.ResponseWriter, r *http.Request) {
	s.topEndpoints(w, r, "id.resp_h")
}

func (s *Server) topEndpoints(w http.ResponseWriter, r *http.Request, field string) {
	tr := timeRange(r)
	limit := limitParam(r, 20, 100)

	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{"endpoints": search.TermsAgg(field, limit, search.M{
			"bytes_out": search.SumAgg("orig_bytes"),
			"bytes_in":  search.SumAgg("resp_bytes"),
		})},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]map[string]any, 0)
	for _, bucket := range result.Buckets("endpoints") {
		entries = append(entries, map[string]any{
			"ip":             bucket.KeyString(),
			"connections":    bucket.DocCount,
			"bytes_sent":     int64(bucket.SumValue("bytes_out")),
			"bytes_received": int64(bucket.SumValue("bytes_in")),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)

	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{
			"protocols": search.TermsAgg("proto", 10, search.M{
				"bytes": search.ScriptedTotalBytesAgg(),
			}),
			"services": search.TermsAgg("service", 30, search.M{
				"bytes": search.ScriptedTotalBytesAgg(),
			}),
		},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	decode := func(name string) []map[string]any {
		out := make([]map[string]any, 0)
		for _, bucket := range result.Buckets(name) {
			out = append(out, map[string]any{
				"name":        bucket.KeyString(),
				"connections": bucket.DocCount,
				"bytes":       int64(bucket.SumValue("bytes")),
			})
		}
		return out
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"protocols": decode("protocols"),
		"services":  decode("services"),
	})
}

// handleBandwidth returns a byte-volume time series at a fixed
// interval, defaulting to hourly.
func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1h"
	}
	if !allowedIntervals[interval] {
		writeErrorMessage(w, http.StatusBadRequest, "interval must be one of 1m, 5m, 15m, 1h, 1d")
		return
	}

	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{"series": search.DateHistogramAgg(interval, search.M{
			"bytes_out": search.SumAgg("orig_bytes"),
			"bytes_in":  search.SumAgg("resp_bytes"),
		})},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	series := make([]map[string]any, 0)
	for _, bucket := range result.Buckets("series") {
		series = append(series, map[string]any{
			"time":        bucket.KeyString(),
			"connections": bucket.DocCount,
			"orig_bytes":  int64(bucket.SumValue("bytes_out")),
			"resp_bytes":  int64(bucket.SumValue("bytes_in")),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interval": interval,
		"series":   series,
	})
}

// handleConnections pages through raw connection records with optional
// ip, port, and proto filters.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)
	page, size := pagination(r)
	q := r.URL.Query()

	filter := []search.M{search.TimeRangeFilter(tr)}
	if proto := q.Get("proto"); proto != "" {
		filter = append(filter, search.Term("proto", proto))
	}
	if port := q.Get("port"); port != "" {
		filter = append(filter, search.Term("id.resp_p", port))
	}
	var should []search.M
	if ip := q.Get("ip"); ip != "" {
		should = []search.M{
			search.Term("id.orig_h", ip),
			search.Term("id.resp_h", ip),
		}
	}

	query := search.BoolQuery{Filter: filter, Should: should}.Build()
	if len(should) > 0 {
		query["bool"].(search.M)["minimum_should_match"] = 1
	}

	body := search.Body{
		Query: query,
		Size:  search.IntPtr(size),
		From:  search.IntPtr((page - 1) * size),
		Sort:  search.SortByTimeDesc(),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	connections := make([]map[string]any, 0, len(result.Hits))
	for _, hit := range result.Hits {
		connections = append(connections, hit.Source)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": connections,
		"total":       result.Total,
		"page":        page,
		"size":        size,
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	stats := enrich.CategoryStats(r.Context(), s.Search, timeRange(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": stats,
		"total":      len(stats),
	})
}
