package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

func validRequest() Request {
	return Request{
		ID:        "req-1",
		Title:     "Free Bird",
		Artist:    "Lynyrd Skynyrd",
		Requester: "table 12",
		Votes:     3,
		Status:    RequestStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, validRequest().Validate())

	missing := validRequest()
	missing.ID = ""
	assert.ErrorIs(t, missing.Validate(), errors.ErrMissingConfig)

	untitled := validRequest()
	untitled.Title = ""
	assert.ErrorIs(t, untitled.Validate(), errors.ErrMissingConfig)

	bogus := validRequest()
	bogus.Status = "humming"
	assert.ErrorIs(t, bogus.Validate(), errors.ErrInvalidConfig)
}

func TestRequestIsActive(t *testing.T) {
	r := validRequest()
	assert.True(t, r.IsActive())

	r.Status = RequestStatusLocked
	assert.True(t, r.IsActive())

	r.Status = RequestStatusPlayed
	assert.False(t, r.IsActive())

	r.Status = RequestStatusSkipped
	assert.False(t, r.IsActive())
}
