package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/apperr"
	"github.com/studiocore/control-plane/pkg/auth"
)

const principalKey = "principal"

// APIKeyHeader is the header spec §6 defines for machine-credential
// authentication, the alternative to a bearer access token.
const APIKeyHeader = "X-API-Key"

// requireAuth extracts either a Bearer access token or an X-API-Key
// header, resolves it to a Principal, and stores it on the request
// context for downstream handlers. Exactly one credential is accepted
// per request; supplying both is rejected as malformed rather than
// silently preferring one.
func requireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := bearerToken(c.GetHeader("Authorization"))
		apiKey := c.GetHeader(APIKeyHeader)

		switch {
		case bearer != "" && apiKey != "":
			respondError(c, apperr.Unauthorized("supply either a bearer token or an api key, not both"))
			return

		case bearer != "":
			principal, err := svc.VerifyAccessToken(bearer)
			if err != nil {
				respondError(c, err)
				return
			}
			c.Set(principalKey, principal)

		case apiKey != "":
			isWrite := c.Request.Method != "GET" && c.Request.Method != "HEAD"
			principal, err := svc.AuthenticateAPIKey(c.Request.Context(), apiKey, isWrite)
			if err != nil {
				respondError(c, err)
				return
			}
			c.Set(principalKey, principal)

		default:
			respondError(c, apperr.Unauthorized("missing credentials"))
			return
		}

		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// currentPrincipal retrieves the Principal requireAuth attached to the
// request context. Panics if called from a route that doesn't sit
// behind requireAuth — a programmer error, not a request-time one.
func currentPrincipal(c *gin.Context) auth.Principal {
	return c.MustGet(principalKey).(auth.Principal)
}

// requireAdmin rejects any non-admin principal, used for the webhook
// admin surface and API key issuance.
func requireAdmin(c *gin.Context) {
	if !currentPrincipal(c).IsAdmin() {
		respondError(c, apperr.Forbidden("admin role required"))
		return
	}
	c.Next()
}

// requireScope rejects an API-key principal lacking want, and is a
// no-op for bearer-token principals (which carry no scope concept).
func requireScope(want auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentPrincipal(c).HasScope(want) {
			respondError(c, apperr.Forbidden("insufficient api key scope"))
			return
		}
		c.Next()
	}
}
