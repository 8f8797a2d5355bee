// Package httpapi wires the ops HTTP surface (Gin): health and readiness
// probes, the Prometheus scrape endpoint, and a small read-only API over the
// queue state. The bot's user-facing surface is Telegram; this server exists
// for operators and monitoring.
//
// Middleware order: tracing first, then correlation id, structured logging,
// panic recovery, and response compression.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/obervinov/instabot-downloader/internal/config"
	"github.com/obervinov/instabot-downloader/internal/http/middleware"
	"github.com/obervinov/instabot-downloader/internal/services"
)

// RegisterRoutes attaches middleware and endpoints to the given Gin engine.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, queue *services.QueueService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &activityHandler{queue: queue}
	api := r.Group("/api/v1")
	{
		api.GET("/users/:id/activity", h.getActivity)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"message": "method not allowed"})
	})
}

// activityHandler serves the read-only queue views.
type activityHandler struct {
	queue *services.QueueService
}

// activityResponse is the JSON shape of the activity endpoint.
type activityResponse struct {
	QueuedTotal    int64           `json:"queued_total"`
	ProcessedTotal int64           `json:"processed_total"`
	Queued         []activityEntry `json:"queued"`
	Processed      []activityEntry `json:"processed"`
}

// activityEntry is one row of either section.
type activityEntry struct {
	PostID        string `json:"post_id"`
	State         string `json:"state"`
	ScheduledTime string `json:"scheduled_time"`
}

// getActivity returns a user's queue summary: totals plus the next queued and
// most recently archived entries.
func (h *activityHandler) getActivity(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user id is required"})
		return
	}
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user id must be numeric"})
		return
	}

	activity, err := h.queue.Activity(c.Request.Context(), userID)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Str("user_id", userID).Msg("activity lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
		return
	}

	resp := activityResponse{
		QueuedTotal:    activity.QueuedTotal,
		ProcessedTotal: activity.ProcessedTotal,
		Queued:         make([]activityEntry, 0, len(activity.Queued)),
		Processed:      make([]activityEntry, 0, len(activity.Processed)),
	}
	for _, e := range activity.Queued {
		resp.Queued = append(resp.Queued, activityEntry{
			PostID:        e.PostID,
			State:         string(e.State),
			ScheduledTime: e.ScheduledTime.UTC().Format(time.RFC3339),
		})
	}
	for _, e := range activity.Processed {
		resp.Processed = append(resp.Processed, activityEntry{
			PostID:        e.PostID,
			State:         string(e.State),
			ScheduledTime: e.ScheduledTime.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}
