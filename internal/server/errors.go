// Package server provides the HTTP REST API for the presentation pipeline.
package server

import (
	"errors"
	"net/http"

	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/pptx"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
)

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, storage.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrRetryExhausted), errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, pptx.ErrCorruptArchive), errors.Is(err, pptx.ErrNotPresentation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
