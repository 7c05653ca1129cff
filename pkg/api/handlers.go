package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/apperr"
)

// pathInt64 parses a required int64 path parameter, returning a
// bad_request apperr on anything that isn't a positive integer.
func pathInt64(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter, falling back to
// def when absent or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
