package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, url string, params gin.Params) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, url, nil)
	c.Params = params
	return c
}

func TestPathInt64(t *testing.T) {
	c := newTestContext(t, "/jobs/42", gin.Params{{Key: "id", Value: "42"}})
	id, err := pathInt64(c, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestPathInt64RejectsNonPositive(t *testing.T) {
	c := newTestContext(t, "/jobs/0", gin.Params{{Key: "id", Value: "0"}})
	_, err := pathInt64(c, "id")
	assert.Error(t, err)
}

func TestPathInt64RejectsGarbage(t *testing.T) {
	c := newTestContext(t, "/jobs/abc", gin.Params{{Key: "id", Value: "abc"}})
	_, err := pathInt64(c, "id")
	assert.Error(t, err)
}

func TestQueryInt(t *testing.T) {
	c := newTestContext(t, "/jobs?limit=25", nil)
	assert.Equal(t, 25, queryInt(c, "limit", 10))
}

func TestQueryIntFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"missing", "/jobs"},
		{"malformed", "/jobs?limit=not-a-number"},
	}
	for _, tt := range tests {
		c := newTestContext(t, tt.url, nil)
		assert.Equal(t, 10, queryInt(c, "limit", 10), tt.name)
	}
}
