package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nettap/nettapd/internal/store"
)

func (s *Server) handleInvestigations(w http.ResponseWriter, r *http.Request) {
	list := s.Investigations.List(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": list,
		"total":          len(list),
	})
}

func (s *Server) handleInvestigationCreate(w http.ResponseWriter, r *http.Request) {
	var inv store.Investigation
	if err := decodeBody(r, &inv); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Investigations.Create(inv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Investigations.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleInvestigationUpdate(w http.ResponseWriter, r *http.Request) {
	var patch store.Investigation
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.Investigations.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleInvestigationDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Investigations.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "deleted",
		"id":     id,
	})
}

func (s *Server) handleNoteAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.Investigations.AddNote(chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.Investigations.UpdateNote(chi.URLParam(r, "id"), chi.URLParam(r, "noteID"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleNoteDelete(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Investigations.DeleteNote(chi.URLParam(r, "id"), chi.URLParam(r, "noteID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	list := s.Schedules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": list,
		"total":     len(list),
	})
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var schedule store.ReportSchedule
	if err := decodeBody(r, &schedule); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Schedules.Create(schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.Schedules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch store.ReportSchedule
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.Schedules.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Schedules.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "deleted",
		"id":     id,
	})
}

func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	list := s.Packs.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"packs": list,
		"total": len(list),
	})
}

func (s *Server) handlePackRegister(w http.ResponseWriter, r *http.Request) {
	var pack store.DetectionPack
	if err := decodeBody(r, &pack); err != nil {
		writeError(w, err)
		return
	}
	registered, err := s.Packs.Register(pack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

func (s *Server) handlePackToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pack, err := s.Packs.SetEnabled(chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

func (s *Server) handlePackRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Packs.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "removed",
		"id":     id,
	})
}
