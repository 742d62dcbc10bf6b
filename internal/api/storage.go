package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nettap/nettapd/internal/search"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleSystemHealth aggregates subsystem health into one verdict.
// Any degraded subsystem demotes the overall status to degraded; an
// unreachable database demotes it to down.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subsystems := map[string]string{}
	overall := "healthy"

	degrade := func(to string) {
		if to == "down" || overall == "healthy" {
			overall = to
		}
	}

	if info, err := s.Search.Info(ctx); err != nil {
		subsystems["opensearch"] = "down"
		degrade("down")
	} else {
		subsystems["opensearch"] = "healthy"
		subsystems["opensearch_version"] = info.Version.Number
	}

	status := s.Storage.Status(ctx)
	switch {
	case status.DiskUsagePercent < 0:
		subsystems["storage"] = "unknown"
		degrade("degraded")
	case status.DiskUsagePercent/100 >= status.EmergencyThreshold:
		subsystems["storage"] = "critical"
		degrade("degraded")
	case status.DiskUsagePercent/100 >= status.DiskThreshold:
		subsystems["storage"] = "pressure"
		degrade("degraded")
	default:
		subsystems["storage"] = "healthy"
	}

	if sample, ok := s.Bridge.Latest(); ok {
		subsystems["bridge"] = sample.HealthStatus
		if sample.HealthStatus != "normal" {
			degrade("degraded")
		}
	} else {
		subsystems["bridge"] = "unknown"
	}

	if sample, ok := s.Internet.Latest(); ok {
		subsystems["internet"] = sample.Status
		if sample.Status != "healthy" {
			degrade("degraded")
		}
	} else {
		subsystems["internet"] = "unknown"
	}

	if s.TShark.IsAvailable(ctx) {
		subsystems["analyzer"] = "healthy"
	} else {
		subsystems["analyzer"] = "down"
		degrade("degraded")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     overall,
		"subsystems": subsystems,
	})
}

func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Storage.Status(r.Context()))
}

func (s *Server) handleStoragePrune(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "tiered"
	}

	var deleted int
	switch mode {
	case "tiered":
		deleted = s.Storage.PruneTiered(r.Context())
	case "emergency":
		deleted = s.Storage.PruneEmergency(r.Context())
	default:
		writeErrorMessage(w, http.StatusBadRequest, "mode must be tiered or emergency")
		return
	}

	if s.Metrics != nil {
		s.Metrics.PruneDeletes.WithLabelValues(mode).Add(float64(deleted))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "pruned",
		"mode":    mode,
		"deleted": deleted,
	})
}

func (s *Server) handleIndices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Storage.ListIndices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"indices": entries,
		"total":   len(entries),
	})
}

// handleILMApply installs the retention policy derived from the
// configured tier windows as an ISM policy document.
func (s *Server) handleILMApply(w http.ResponseWriter, r *http.Request) {
	retention := s.Config.Retention
	policy := search.M{
		"policy": search.M{
			"description":   "nettapd tiered retention",
			"default_state": "hot",
			"states": []search.M{
				{
					"name": "hot",
					"transitions": []search.M{{
						"state_name": "delete",
						"conditions": search.M{"min_index_age": formatDays(retention.HotDays)},
					}},
				},
				{
					"name":    "delete",
					"actions": []search.M{{"delete": search.M{}}},
				},
			},
			"ism_template": []search.M{{
				"index_patterns": []string{"zeek-*", "suricata-*", "arkime_*"},
				"priority":       50,
			}},
		},
	}

	if err := s.ILM.PutILMPolicy(r.Context(), "nettap-retention", policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "applied",
		"policy": "nettap-retention",
	})
}

func formatDays(days int) string {
	return strconv.Itoa(days) + "d"
}
