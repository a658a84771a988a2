// README: Base handler utilities (JSON helpers, error mapping, caller identity).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hometaste/internal/apperr"
	"hometaste/internal/http/middleware"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeMessage(c *gin.Context, status int, kind apperr.Kind, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Kind: kind})
}

// writeError maps the error kind to a status. Conflicts are reported as 400.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation, apperr.KindConflict:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeMessage(c, status, apperr.KindInternal, "internal error")
		return
	}
	writeMessage(c, status, kind, apperr.Message(err))
}

func badJSON(c *gin.Context) {
	writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "invalid json")
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func actor(c *gin.Context) order.Actor {
	return order.Actor{ID: callerID(c), Role: user.Role(middleware.CallerRole(c))}
}

// isValidID accepts the URL-safe ids the stores generate and Firebase uids.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads :id and writes a 400 when it is malformed.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}
