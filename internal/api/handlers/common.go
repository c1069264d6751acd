// Package handlers implements the HTTP and WebSocket endpoints of the
// management API.
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxListLimit = 500

// parseLimit reads the limit query parameter. Missing or invalid values
// yield zero, which lets the store apply its default.
func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
