// Package api holds the gin handlers for the HTTP surface.
package api

import (
	"strconv"

	apperrors "character-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// bind decodes the JSON body and records a 4004 error on failure
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.InvalidInput("Invalid request body").WithDetails(err.Error()).WithCause(err))
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(apperrors.InvalidInput("Invalid " + name))
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}
