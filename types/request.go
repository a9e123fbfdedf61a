// Package types contains shared domain types used across the sync layer
package types

import (
	"fmt"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// RequestStatus represents the lifecycle state of a song request
type RequestStatus string

// Request status constants
const (
	RequestStatusPending RequestStatus = "pending"
	RequestStatusLocked  RequestStatus = "locked"
	RequestStatusPlayed  RequestStatus = "played"
	RequestStatusSkipped RequestStatus = "skipped"
)

// Request is one audience song request as served by the backend. The
// sync layer treats it as an immutable snapshot: consumers must not
// mutate values handed back from the cache.
type Request struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Artist    string        `json:"artist"`
	Requester string        `json:"requester"`
	Votes     int           `json:"votes"`
	Status    RequestStatus `json:"status"`
	PhotoURL  string        `json:"photo_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate ensures the request record is well formed.
func (r Request) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"Request",
			"Validate",
			"request id cannot be empty",
		)
	}
	if r.Title == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"Request",
			"Validate",
			"request title cannot be empty",
		)
	}

	switch r.Status {
	case RequestStatusPending, RequestStatusLocked, RequestStatusPlayed, RequestStatusSkipped:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Request", "Validate",
			fmt.Sprintf("invalid request status: %s", r.Status))
	}
}

// IsActive reports whether the request still competes for stage time.
func (r Request) IsActive() bool {
	return r.Status == RequestStatusPending || r.Status == RequestStatusLocked
}
