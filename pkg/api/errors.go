package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/apperr"
)

// errorBody is the response shape spec §7 fixes for every failed
// request: {"error": {"kind": ..., "message": ..., "details": ...}}.
type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusUnprocessableEntity,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindBadRequest:   http.StatusBadRequest,
	apperr.KindInternal:     http.StatusInternalServerError,
}

// respondError maps any error to spec §7's HTTP status/body pairing. A
// bare error (not an *apperr.Error, e.g. a repository failure) is
// logged with its full detail and folded into a generic internal
// response — callers never see database internals.
func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var details map[string]any
	if errors.As(err, &appErr) {
		message = appErr.Message
		details = appErr.Details
	}

	if kind == apperr.KindInternal {
		slog.Error("request failed", "error", err, "path", c.Request.URL.Path)
		message = "internal error"
	}

	c.AbortWithStatusJSON(status, errorBody{Error: errorPayload{
		Kind:    string(kind),
		Message: message,
		Details: details,
	}})
}
