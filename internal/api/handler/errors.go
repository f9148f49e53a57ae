package handler

import (
	"errors"
	"net/http"

	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/poll"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/internal/track"
)

// serviceError maps service-layer errors onto the API's error envelope.
// Anything unrecognized is a 500 with no internals leaked.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, track.ErrNotWatched):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "ALREADY_EXISTS", "Resource already exists", nil)
	case errors.Is(err, poll.ErrDuplicateWatch):
		response.Error(w, http.StatusConflict, "TASK_IN_FLIGHT", "Task is already being tracked", nil)
	case errors.Is(err, track.ErrPromptRequired):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "prompt is required", nil)
	case errors.Is(err, engine.ErrEngineUnreachable), errors.Is(err, engine.ErrEngineTimeout),
		errors.Is(err, engine.ErrEngineStatus):
		response.Error(w, http.StatusBadGateway, "ENGINE_UNAVAILABLE", "The engine is not responding", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
