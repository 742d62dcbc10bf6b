package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	svcerr "github.com/nettap/nettapd/internal/errors"
	"github.com/nettap/nettapd/internal/updates"
)

func (s *Server) handleBridgeHealth(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.Bridge.Latest()
	if !ok {
		// First call before the periodic driver has run.
		sample = s.Bridge.Sample(r.Context())
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleBridgeHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 100, 2880)
	writeJSON(w, http.StatusOK, map[string]any{
		"samples": s.Bridge.History(limit),
	})
}

func (s *Server) handleBridgeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Bridge.Stats())
}

func (s *Server) handleBypassEnable(w http.ResponseWriter, r *http.Request) {
	s.Bridge.TriggerBypass()
	writeJSON(w, http.StatusOK, map[string]any{"result": "bypass_enabled"})
}

func (s *Server) handleBypassDisable(w http.ResponseWriter, r *http.Request) {
	s.Bridge.DisableBypass()
	writeJSON(w, http.StatusOK, map[string]any{"result": "bypass_disabled"})
}

func (s *Server) handleInternetHealth(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.Internet.Latest()
	if !ok {
		sample = s.Internet.Probe(r.Context())
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleInternetHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 100, 2880)
	writeJSON(w, http.StatusOK, map[string]any{
		"samples": s.Internet.History(limit),
	})
}

func (s *Server) handleInternetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Internet.Stats())
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	components := s.Versions.GetVersions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"components": components,
		"total":      len(components),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	component, ok := s.Versions.GetComponent(r.Context(), name)
	if !ok {
		writeError(w, svcerr.NotFound("versions.get", fmt.Errorf("unknown component %s", name)))
		return
	}
	writeJSON(w, http.StatusOK, component)
}

func (s *Server) handleVersionScan(w http.ResponseWriter, r *http.Request) {
	components := s.Versions.ScanVersions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"result":     "scanned",
		"components": components,
		"total":      len(components),
	})
}

func (s *Server) handleUpdatesAvailable(w http.ResponseWriter, r *http.Request) {
	available := s.Checker.GetAvailable()
	writeJSON(w, http.StatusOK, map[string]any{
		"updates": available,
		"total":   len(available),
	})
}

func (s *Server) handleUpdateFor(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	info, ok := s.Checker.GetUpdateFor(component)
	if !ok {
		writeError(w, svcerr.NotFound("updates.get", fmt.Errorf("no update pending for %s", component)))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpdatesCheck(w http.ResponseWriter, r *http.Request) {
	found := s.Checker.CheckUpdates(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "checked",
		"updates": found,
		"total":   len(found),
	})
}

func (s *Server) handleUpdatesApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Components []string `json:"components"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Components) == 0 {
		writeError(w, svcerr.Validation("updates.apply", fmt.Errorf("components is required")))
		return
	}

	batch, err := s.Executor.ApplyUpdate(r.Context(), req.Components)
	if errors.Is(err, updates.ErrUpdateInProgress) {
		// Conflict carries a snapshot of the running batch.
		response := map[string]any{
			"error":   "An update is already in progress",
			"success": false,
			"total":   0,
		}
		if current, ok := s.Executor.Current(); ok {
			response["in_progress"] = current
		}
		writeJSON(w, http.StatusConflict, response)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.UpdateRuns.WithLabelValues("success").Add(float64(batch.Succeeded))
		s.Metrics.UpdateRuns.WithLabelValues("failure").Add(float64(batch.Failed))
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleUpdateRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Component string `json:"component"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Component == "" {
		writeError(w, svcerr.Validation("updates.rollback", fmt.Errorf("component is required")))
		return
	}
	writeJSON(w, http.StatusOK, s.Executor.Rollback(r.Context(), req.Component))
}

func (s *Server) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	history := s.Executor.History()
	response := map[string]any{
		"batches": history,
		"total":   len(history),
	}
	if current, ok := s.Executor.Current(); ok {
		response["in_progress"] = current
	}
	writeJSON(w, http.StatusOK, response)
}
