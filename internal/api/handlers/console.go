package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jannetahkola/mc-server-manager/internal/api/middleware"
	"github.com/jannetahkola/mc-server-manager/internal/console"
	"github.com/jannetahkola/mc-server-manager/internal/database"
	ws "github.com/jannetahkola/mc-server-manager/internal/websocket"
)

// Inbound message types on the console socket.
const (
	messageCommand   = "command"
	messageSetFilter = "set_filter"
)

// ConsoleHandler serves the live console socket and the command audit
// trail.
type ConsoleHandler struct {
	sessions       *console.SessionStore
	relay          *console.Relay
	events         *database.EventStore
	allowedOrigins []string
}

func NewConsoleHandler(sessions *console.SessionStore, relay *console.Relay, events *database.EventStore, allowedOrigins []string) *ConsoleHandler {
	return &ConsoleHandler{
		sessions:       sessions,
		relay:          relay,
		events:         events,
		allowedOrigins: allowedOrigins,
	}
}

type commandPayload struct {
	Command string `json:"command"`
}

type filterPayload struct {
	Type          string `json:"type"`
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// HandleWebSocket attaches the caller to the game console. Admins may send
// commands; everyone else only watches.
func (h *ConsoleHandler) HandleWebSocket(c *gin.Context) {
	principal := middleware.Principal(c)
	claims, _ := middleware.Claims(c)
	canExecute := claims != nil && claims.IsAdmin()

	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := ws.NewClient(conn, principal)
	session := h.sessions.AddSession(principal, client)

	go client.WritePump()
	client.SendMessage("session_info", map[string]interface{}{
		"session_id":     session.Handle,
		"username":       principal,
		"can_execute":    canExecute,
		"active_viewers": h.sessions.Count(),
	})

	go func() {
		if err := h.relay.Subscribe(context.Background(), principal, session.Handle); err != nil {
			log.Printf("[Console] Relay for session %s ended: %v", session.Handle, err)
			client.Close()
		}
	}()

	go func() {
		defer h.sessions.RemoveSession(session.Handle)
		client.ReadPump(func(msg *ws.InboundMessage) {
			h.handleMessage(client, session, canExecute, msg)
		})
	}()
}

func (h *ConsoleHandler) handleMessage(client *ws.Client, session *console.Session, canExecute bool, msg *ws.InboundMessage) {
	h.sessions.Touch(session.Handle)

	switch msg.Type {
	case messageCommand:
		if !canExecute {
			client.SendMessage("error", map[string]interface{}{"message": "No permission to execute commands"})
			return
		}
		var payload commandPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			client.SendMessage("error", map[string]interface{}{"message": "Invalid payload"})
			return
		}
		if err := h.relay.Submit(session.Handle, payload.Command); err != nil {
			client.SendMessage("error", map[string]interface{}{"message": err.Error()})
		}

	case messageSetFilter:
		var payload filterPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			client.SendMessage("error", map[string]interface{}{"message": "Invalid payload"})
			return
		}
		filter, err := console.NewOutputFilter(payload.Type, payload.Pattern, payload.CaseSensitive)
		if err != nil {
			client.SendMessage("error", map[string]interface{}{"message": err.Error()})
			return
		}
		session.SetFilter(filter)
		client.SendMessage("filter_updated", filter)

	default:
		log.Printf("[Console] Unknown message type: %s", msg.Type)
	}
}

// Commands lists audited console commands. Non-admins only see their own.
func (h *ConsoleHandler) Commands(c *gin.Context) {
	principal := middleware.Principal(c)
	if claims, ok := middleware.Claims(c); ok && claims.IsAdmin() {
		principal = c.Query("principal")
	}

	records, err := h.events.RecentCommands(c.Request.Context(), principal, parseLimit(c))
	if err != nil {
		log.Printf("[Console] Failed to list console commands: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list console commands"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": records})
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
