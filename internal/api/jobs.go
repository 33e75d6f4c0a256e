package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/jobs"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

type jobEvent struct {
	JobID            string `json:"job_id"`
	Name             string `json:"name"`
	FableFingerprint string `json:"fable_fingerprint,omitempty"`
}

// handleSubmitJob handles POST /job. The fable is validated first; an
// invalid fable is rejected with 422 and its expansion.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	doc := req.Fable
	if doc == nil {
		if req.FableID == "" {
			s.writeError(w, http.StatusBadRequest, "fable or fable_id is required")
			return
		}
		rec, err := s.fables.Get(r.Context(), req.FableID)
		if err != nil {
			s.writeStoreError(w, req.FableID, err)
			return
		}
		doc = rec.Fable
	}

	exp := validation.Expand(s.catalogue, doc)
	if !validation.Interpret(exp).IsValid {
		respondJSON(w, http.StatusUnprocessableEntity, InvalidFableResponse{
			Error:     "fable is not valid",
			Expansion: exp,
		})
		return
	}

	jobID, err := s.jobs.Submit(r.Context(), jobs.SubmitRequest{
		Fable:       doc,
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Environment: req.Environment,
	})
	if err != nil {
		s.logger.Error("failed to submit job", "name", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	fp, _ := doc.Fingerprint()
	s.logger.Info("job submitted", "job_id", jobID, "blocks", len(doc.Blocks))
	s.events.Publish(events.TypeJobSubmitted, jobEvent{JobID: jobID, Name: req.Name, FableFingerprint: fp})
	respondJSON(w, http.StatusAccepted, JobResponse{JobID: jobID, Status: jobs.StatusSubmitted})
}

// handleGetJob handles GET /job/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: list})
}
