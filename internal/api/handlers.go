package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/generator"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/urlstate"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

// maxBodyBytes bounds request bodies. Stored fables are limited separately.
const maxBodyBytes = 4 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Plugins:       len(s.catalogue),
		Factories:     len(catalogue.Flatten(s.catalogue)),
	})
}

// handleCatalogue handles GET /catalogue.
func (s *Server) handleCatalogue(w http.ResponseWriter, r *http.Request) {
	cat := s.catalogue
	if cat == nil {
		cat = catalogue.Catalogue{}
	}
	respondJSON(w, http.StatusOK, cat)
}

// handleGenerate handles POST /plugin/{store}/{local}/generate.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	pluginID := fable.PluginID{Store: chi.URLParam(r, "store"), Local: chi.URLParam(r, "local")}
	fill, _ := strconv.ParseBool(r.URL.Query().Get("defaults"))

	doc, err := generator.GeneratePluginPipeline(s.catalogue, pluginID, generator.Options{FillDefaults: fill})
	if errors.Is(err, generator.ErrUnknownPlugin) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to generate pipeline", "plugin", pluginID.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to generate pipeline")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleValidate handles POST /fable/validate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.decodeFable(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, validation.Expand(s.catalogue, doc))
}

// handleEncode handles POST /fable/encode.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.decodeFable(w, r)
	if !ok {
		return
	}
	state, err := s.codec.Encode(doc)
	if err != nil {
		s.logger.Error("failed to encode fable", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode fable")
		return
	}
	respondJSON(w, http.StatusOK, EncodeResponse{
		State:     state,
		Length:    len(state),
		MaxLength: s.codec.MaxLength(),
		TooLarge:  s.codec.IsTooLarge(state),
	})
}

// handleDecode handles GET /fable/decode?state=.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get(urlstate.ParamState)
	if state == "" {
		s.writeError(w, http.StatusBadRequest, "state parameter is required")
		return
	}
	doc, ok := s.codec.Decode(state)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "state is not a valid encoded fable")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// decodeFable reads a bare document body. It writes the error response
// itself and reports false on failure.
func (s *Server) decodeFable(w http.ResponseWriter, r *http.Request) (*fable.Builder, bool) {
	doc := fable.New()
	if !s.decodeBody(w, r, doc) {
		return nil, false
	}
	if doc.Blocks == nil {
		doc.Blocks = map[fable.InstanceID]fable.BlockInstance{}
	}
	return doc.Clone(), true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
