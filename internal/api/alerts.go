package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	svcerr "github.com/nettap/nettapd/internal/errors"
	"github.com/nettap/nettapd/internal/search"
)

// handleAlerts lists IDS alerts newest first, enriched with category,
// risk context, and acknowledgement state. Optional filters: severity,
// ip (matches either endpoint), acknowledged=true|false.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	page, size := pagination(r)
	tr := timeRange(r)
	q := r.URL.Query()

	filter := []search.M{
		search.TimeRangeFilter(tr),
		search.Exists("alert"),
	}
	if severity := q.Get("severity"); severity != "" {
		filter = append(filter, search.Term("alert.severity", severity))
	}
	var should []search.M
	if ip := q.Get("ip"); ip != "" {
		should = []search.M{
			search.Term("src_ip", ip),
			search.Term("dest_ip", ip),
		}
	}

	boolQuery := search.BoolQuery{Filter: filter, Should: should}
	query := boolQuery.Build()
	if len(should) > 0 {
		query["bool"].(search.M)["minimum_should_match"] = 1
	}

	body := search.Body{
		Query: query,
		Size:  search.IntPtr(size),
		From:  search.IntPtr((page - 1) * size),
		Sort:  search.SortByTimeDesc(),
	}.Build()

	result, err := s.Search.Search(r.Context(), alertIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	ackFilter := q.Get("acknowledged")
	alerts := make([]map[string]any, 0, len(result.Hits))
	for _, hit := range result.Hits {
		alert := s.annotateAlert(hit.ID, hit.Source)
		if ackFilter == "true" && alert["acknowledged"] != true {
			continue
		}
		if ackFilter == "false" && alert["acknowledged"] == true {
			continue
		}
		alerts = append(alerts, alert)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  result.Total,
		"page":   page,
		"size":   size,
	})
}

// handleAlertCount returns totals broken down by severity.
func (s *Server) handleAlertCount(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)
	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{
			search.TimeRangeFilter(tr),
			search.Exists("alert"),
		}}.Build(),
		Aggs: search.M{"severities": search.TermsAgg("alert.severity", 10, nil)},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), alertIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	bySeverity := map[string]int64{}
	for _, bucket := range result.Buckets("severities") {
		bySeverity[bucket.KeyString()] = bucket.DocCount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       result.Total,
		"by_severity": bySeverity,
	})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body := search.Body{
		Query: search.M{"ids": search.M{"values": []string{id}}},
		Size:  search.IntPtr(1),
	}.Build()

	result, err := s.Search.Search(r.Context(), alertIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result.Hits) == 0 {
		writeError(w, svcerr.NotFound("alerts.get", fmt.Errorf("alert %s not found", id)))
		return
	}
	hit := result.Hits[0]
	writeJSON(w, http.StatusOK, s.annotateAlert(hit.ID, hit.Source))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		AcknowledgedBy string `json:"acknowledged_by"`
		Comment        string `json:"comment"`
	}
	// The body is optional; an empty one acknowledges anonymously.
	_ = decodeBody(r, &req)
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy = "operator"
	}

	if err := s.Acks.Acknowledge(id, req.AcknowledgedBy, req.Comment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "acknowledged",
		"id":     id,
	})
}

func (s *Server) handleUnacknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.Acks.Unacknowledge(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, svcerr.NotFound("alerts.unacknowledge", fmt.Errorf("no acknowledgement for %s", id)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "unacknowledged",
		"id":     id,
	})
}

// annotateAlert enriches one alert document and stamps identity and
// acknowledgement state onto it.
func (s *Server) annotateAlert(id string, doc map[string]any) map[string]any {
	alert := s.Alerts.Enrich(doc)
	alert["id"] = id
	if ack, ok := s.Acks.Get(id); ok {
		alert["acknowledged"] = true
		alert["acknowledged_by"] = ack.AcknowledgedBy
		alert["acknowledged_at"] = ack.AcknowledgedAt
		if ack.Comment != "" {
			alert["ack_comment"] = ack.Comment
		}
	} else {
		alert["acknowledged"] = false
	}
	return alert
}
