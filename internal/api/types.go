package api

import (
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fablestore"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/jobs"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Plugins       int    `json:"plugins"`
	Factories     int    `json:"factories"`
}

// EncodeResponse is returned by POST /fable/encode.
type EncodeResponse struct {
	State     string `json:"state"`
	Length    int    `json:"length"`
	MaxLength int    `json:"max_length"`
	TooLarge  bool   `json:"too_large"`
}

// FableRequest is the body of POST /fable and PUT /fable/{id}.
type FableRequest struct {
	Name  string         `json:"name"`
	Fable *fable.Builder `json:"fable"`
	Tags  []string       `json:"tags,omitempty"`
}

// FableListResponse is returned by GET /fables.
type FableListResponse struct {
	Fables []fablestore.Summary `json:"fables"`
}

// JobRequest is the body of POST /job. Either Fable or FableID is set; an
// inline Fable wins.
type JobRequest struct {
	Fable       *fable.Builder    `json:"fable,omitempty"`
	FableID     string            `json:"fable_id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// JobResponse is returned when a job is accepted.
type JobResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// InvalidFableResponse is returned with 422 when a submitted fable does not
// validate.
type InvalidFableResponse struct {
	Error     string               `json:"error"`
	Expansion validation.Expansion `json:"expansion"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}
