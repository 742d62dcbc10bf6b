package api

import (
	"net/http"

	"github.com/nettap/nettapd/internal/tshark"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req tshark.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.TShark.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAnalyzerInfo reports availability and, when the analyzer is
// reachable, its version and protocol inventory. Field lookups are
// exposed via the fields_prefix parameter.
func (s *Server) handleAnalyzerInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := map[string]any{
		"available": s.TShark.IsAvailable(ctx),
	}

	if version, err := s.TShark.GetVersion(ctx); err == nil {
		response["version"] = version
	}
	if protocols, err := s.TShark.GetProtocols(ctx); err == nil {
		response["protocols"] = len(protocols)
	}
	if prefix := r.URL.Query().Get("fields_prefix"); prefix != "" {
		if fields, err := s.TShark.GetFields(ctx, prefix); err == nil {
			response["fields"] = fields
		}
	}

	writeJSON(w, http.StatusOK, response)
}
