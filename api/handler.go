package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/monitor"
	"github.com/liamvmurphy/pokestock-sub001/services"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	orchestrator *monitor.Orchestrator
	listings     *services.ListingService
	db           *storage.PostgresStore
	ops          *storage.SQLiteStore
}

func NewHandler(orchestrator *monitor.Orchestrator, listings *services.ListingService, db *storage.PostgresStore, ops *storage.SQLiteStore) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		listings:     listings,
		db:           db,
		ops:          ops,
	}
}

// HealthCheck returns the health status of the daemon
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pokestock-monitor",
	})
}

// Status returns the orchestrator's run snapshot plus the review backlog link
func (h *Handler) Status(c *gin.Context) {
	snapshot := h.orchestrator.Status()
	c.JSON(http.StatusOK, gin.H{
		"run":         snapshot,
		"backlog_url": h.listings.BacklogURL(),
	})
}

// StartMonitor launches a monitoring run. 409 when one is in flight.
func (h *Handler) StartMonitor(c *gin.Context) {
	if err := h.orchestrator.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// StopMonitor requests cooperative cancellation of the active run
func (h *Handler) StopMonitor(c *gin.Context) {
	h.orchestrator.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

// GetTerms returns the configured search terms
func (h *Handler) GetTerms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terms": h.orchestrator.Terms()})
}

type termsRequest struct {
	Terms []string `json:"terms" binding:"required,min=1"`
}

// SetTerms replaces the search term list for subsequent runs
func (h *Handler) SetTerms(c *gin.Context) {
	var req termsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.orchestrator.SetTerms(req.Terms)
	c.JSON(http.StatusOK, gin.H{"terms": req.Terms})
}

// ListListings returns recently discovered listings
func (h *Handler) ListListings(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	var (
		listings []models.PersistedListing
		err      error
	)
	if c.Query("review") == "true" {
		listings, err = h.db.GetReviewListings(c.Request.Context(), limit)
	} else {
		listings, err = h.db.GetRecentListings(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// ListRuns returns recent run history
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.ops.GetRecentRuns(queryInt(c, "limit", 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// ListLogs returns recent ops log lines
func (h *Handler) ListLogs(c *gin.Context) {
	logs, err := h.ops.GetRecentLogs(queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func queryInt(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}
