// README: Auth middleware: Firebase ID token verification and caller resolution.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hometaste/internal/apperr"
	"hometaste/internal/infra"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

const (
	ctxUID   = "auth.uid"
	ctxRole  = "auth.role"
	ctxClaim = "auth.claim"
)

// Auth rejects requests without a valid "Bearer <id token>" header and stores the uid
// and the role claim, if any, on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "missing bearer token")
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || tok == nil || tok.UID == "" {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid token")
			return
		}
		c.Set(ctxUID, tok.UID)
		if role := tok.Role(); role != "" {
			c.Set(ctxRole, role)
			c.Set(ctxClaim, role)
		}
		c.Next()
	}
}

type Users interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

// Resolve sets the caller's role to the one stored with their profile. Callers without a
// profile act as customers until they register; the raw claim stays readable through
// ClaimedRole.
func Resolve(users Users) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := users.Get(c.Request.Context(), types.ID(CallerUID(c)))
		switch {
		case err == nil:
			c.Set(ctxRole, string(u.Role))
		case apperr.KindOf(err) == apperr.KindNotFound:
			c.Set(ctxRole, string(user.RoleCustomer))
		default:
			abort(c, http.StatusInternalServerError, apperr.KindInternal, "internal error")
			return
		}
		c.Next()
	}
}

// RequireRole lets through callers holding one of roles.
func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		have := user.Role(CallerRole(c))
		for _, r := range roles {
			if have == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, apperr.KindForbidden, "role not allowed")
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// ClaimedRole is the role custom claim of the verified token, before Resolve.
func ClaimedRole(c *gin.Context) string {
	return c.GetString(ctxClaim)
}

func abort(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}
