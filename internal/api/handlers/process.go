package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/jannetahkola/mc-server-manager/internal/api/middleware"
	"github.com/jannetahkola/mc-server-manager/internal/database"
	"github.com/jannetahkola/mc-server-manager/internal/server"
)

// ProcessHandler controls the game server process.
type ProcessHandler struct {
	service *server.GameProcessService
	events  *database.EventStore

	wg sync.WaitGroup
}

func NewProcessHandler(service *server.GameProcessService, events *database.EventStore) *ProcessHandler {
	return &ProcessHandler{service: service, events: events}
}

// ProcessStatusResponse is the process snapshot with resource usage when a
// process is live.
type ProcessStatusResponse struct {
	server.StatusSnapshot
	Stats *server.ProcessStats `json:"stats,omitempty"`
}

// Start begins starting the game server. The launch continues in the
// background and its outcome is visible through Status.
func (h *ProcessHandler) Start(c *gin.Context) {
	if !h.service.InitStart() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Game server cannot be started in its current state",
			"state": h.service.Status(),
		})
		return
	}

	principal := middleware.Principal(c)
	log.Printf("[Process] Start requested by %s", principal)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := <-h.service.StartAsync(); err != nil {
			log.Printf("[Process] Start requested by %s failed: %v", principal, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Game server is starting",
		"state":   server.StateStarting,
	})
}

// Stop begins a graceful stop of the game server.
func (h *ProcessHandler) Stop(c *gin.Context) {
	if !h.service.InitStop() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Game server cannot be stopped in its current state",
			"state": h.service.Status(),
		})
		return
	}

	principal := middleware.Principal(c)
	log.Printf("[Process] Stop requested by %s", principal)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result := <-h.service.StopAsync()
		if result.Err != nil {
			log.Printf("[Process] Stop requested by %s failed: %v", principal, result.Err)
			return
		}
		log.Printf("[Process] Game server stopped (exit code %d, forced %v)", result.ExitCode, result.Forced)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Game server is stopping",
		"state":   server.StateStopping,
	})
}

// Status returns the current process snapshot.
func (h *ProcessHandler) Status(c *gin.Context) {
	response := ProcessStatusResponse{StatusSnapshot: h.service.Snapshot()}
	if proc := h.service.Process(); proc != nil && !proc.Exited() {
		if stats, err := proc.Stats(); err == nil {
			response.Stats = &stats
		}
	}
	c.JSON(http.StatusOK, response)
}

// Events lists recorded state transitions, newest first.
func (h *ProcessHandler) Events(c *gin.Context) {
	events, err := h.events.RecentProcessEvents(c.Request.Context(), parseLimit(c))
	if err != nil {
		log.Printf("[Process] Failed to list process events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list process events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Metrics lists recorded resource samples, newest first.
func (h *ProcessHandler) Metrics(c *gin.Context) {
	samples, err := h.events.RecentMetrics(c.Request.Context(), parseLimit(c))
	if err != nil {
		log.Printf("[Process] Failed to list metrics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": samples})
}

// WaitForCompletion blocks until background start and stop operations
// finish.
func (h *ProcessHandler) WaitForCompletion() {
	h.wg.Wait()
}
