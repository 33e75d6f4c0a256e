package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fablestore"
)

type fableEvent struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// handleListFables handles GET /fables.
func (s *Server) handleListFables(w http.ResponseWriter, r *http.Request) {
	list, err := s.fables.List(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list fables", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list fables")
		return
	}
	respondJSON(w, http.StatusOK, FableListResponse{Fables: list})
}

// handleCreateFable handles POST /fable.
func (s *Server) handleCreateFable(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFableRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.fables.Create(r.Context(), req.Name, req.Fable, req.Tags)
	if err != nil {
		s.writeStoreError(w, "", err)
		return
	}
	s.logger.Info("fable saved", "fable_id", rec.ID, "blocks", len(rec.Fable.Blocks))
	s.events.Publish(events.TypeFableSaved, fableEvent{ID: rec.ID, Name: rec.Name})
	respondJSON(w, http.StatusCreated, rec)
}

// handleGetFable handles GET /fable/{fableID}.
func (s *Server) handleGetFable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fableID")
	rec, err := s.fables.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleUpdateFable handles PUT /fable/{fableID}.
func (s *Server) handleUpdateFable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fableID")
	req, ok := s.decodeFableRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.fables.Update(r.Context(), id, req.Name, req.Fable, req.Tags)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	s.logger.Info("fable updated", "fable_id", rec.ID, "blocks", len(rec.Fable.Blocks))
	s.events.Publish(events.TypeFableSaved, fableEvent{ID: rec.ID, Name: rec.Name})
	respondJSON(w, http.StatusOK, rec)
}

// handleDeleteFable handles DELETE /fable/{fableID}.
func (s *Server) handleDeleteFable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fableID")
	if err := s.fables.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	s.events.Publish(events.TypeFableDeleted, fableEvent{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// handleFableLink handles GET /fable/{fableID}/link. The document is inlined
// when it fits the URL limit, otherwise the link refers to the saved id.
func (s *Server) handleFableLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fableID")
	rec, err := s.fables.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	link, err := s.codec.LinkFor(rec.Fable, rec.ID)
	if err != nil {
		s.logger.Error("failed to build link", "fable_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build link")
		return
	}
	respondJSON(w, http.StatusOK, link)
}

func (s *Server) decodeFableRequest(w http.ResponseWriter, r *http.Request) (*FableRequest, bool) {
	var req FableRequest
	if !s.decodeBody(w, r, &req) {
		return nil, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	if req.Fable == nil {
		req.Fable = fable.New()
	}
	return &req, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, fablestore.ErrFableNotFound):
		s.writeError(w, http.StatusNotFound, "fable not found")
	case errors.Is(err, fablestore.ErrFableTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.logger.Error("fable store failed", "fable_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "fable store failed")
	}
}
