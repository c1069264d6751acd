package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jannetahkola/mc-server-manager/internal/api/middleware"
	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
	"github.com/jannetahkola/mc-server-manager/internal/protocol"
)

// CommandAuditor records executed console commands.
type CommandAuditor interface {
	RecordConsoleCommand(principal, handle, command, source string)
}

// GameHandler talks to the game server over its network protocols.
type GameHandler struct {
	status  *gameclient.StatusClient
	console *gameclient.ConsoleClient
	auditor CommandAuditor
}

func NewGameHandler(status *gameclient.StatusClient, console *gameclient.ConsoleClient, auditor CommandAuditor) *GameHandler {
	return &GameHandler{status: status, console: console, auditor: auditor}
}

type consoleRequest struct {
	Command string `json:"command" binding:"required"`
}

// Status queries the game server status endpoint.
func (h *GameHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Query(c.Request.Context()))
}

// Console runs one command through the remote console.
func (h *GameHandler) Console(c *gin.Context) {
	var req consoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Command is required"})
		return
	}

	responses, err := h.console.Execute(c.Request.Context(), command)
	if err != nil {
		var authErr *gameclient.ConsoleAuthError
		var encErr *protocol.EncodingError
		switch {
		case errors.As(err, &encErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &authErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Remote console rejected the configured password"})
		default:
			log.Printf("[Game] Remote console command failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Remote console unavailable", "details": err.Error()})
		}
		return
	}

	principal := middleware.Principal(c)
	if h.auditor != nil {
		h.auditor.RecordConsoleCommand(principal, "", command, "rcon")
	}
	log.Printf("[Game] Remote console command executed by %s: %s", principal, command)

	response := ""
	if len(responses) > 0 {
		response = responses[0]
	}
	c.JSON(http.StatusOK, gin.H{"command": command, "response": response})
}
