package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocore/control-plane/pkg/apperr"
)

func TestRespondErrorMapsKindToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"validation", apperr.Validation("bad field"), http.StatusUnprocessableEntity, "validation"},
		{"unauthorized", apperr.Unauthorized("nope"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", apperr.Forbidden("nope"), http.StatusForbidden, "forbidden"},
		{"not found", apperr.NotFound("job"), http.StatusNotFound, "not_found"},
		{"conflict", apperr.Conflict("already running"), http.StatusConflict, "conflict"},
		{"bad request", apperr.BadRequest("missing field"), http.StatusBadRequest, "bad_request"},
		{"bare error becomes internal", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		gin.SetMode(gin.TestMode)
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

		respondError(c, tt.err)

		assert.Equal(t, tt.wantStatus, w.Code, tt.name)

		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), tt.name)
		assert.Equal(t, tt.wantKind, body.Error.Kind, tt.name)
	}
}

func TestRespondErrorHidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	respondError(c, apperr.Internal(errors.New("password=hunter2 leaked")))

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error.Message)
	assert.NotContains(t, body.Error.Message, "hunter2")
}

func TestRespondErrorPreservesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	respondError(c, apperr.Conflict("illegal transition").WithDetails(map[string]any{"from": "running", "to": "scheduled"}))

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Error.Details["from"])
	assert.Equal(t, "scheduled", body.Error.Details["to"])
}
