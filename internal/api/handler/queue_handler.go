package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/photobook-be/internal/api/domain"
	"github.com/cuongbtq/photobook-be/internal/api/dto"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// QueueHandler serves session progress: counts, the live stream and the
// recent event journal.
type QueueHandler struct {
	logger   *slog.Logger
	jobs     JobReader
	journal  EventJournal
	streamer EventStreamer
}

func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:   deps.Logger,
		jobs:     deps.Jobs,
		journal:  deps.Journal,
		streamer: deps.Streamer,
	}
}

// GetStatus handles GET /api/v1/queue/status
func (h *QueueHandler) GetStatus(c *gin.Context) {
	var req dto.QueueStatusRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, domain.NewValidationError("invalid query parameters", nil))
		return
	}

	stats, err := h.jobs.Stats(c.Request.Context(), req.SessionID)
	if err != nil {
		respondInternal(c, h.logger, "Failed to get queue stats", err)
		return
	}

	c.JSON(http.StatusOK, dto.QueueStatusResponse{
		SessionID:            req.SessionID,
		Waiting:              stats.Waiting,
		Active:               stats.Active,
		Completed:            stats.Completed,
		Failed:               stats.Failed,
		TotalJobs:            stats.TotalJobs(),
		IsProcessingComplete: stats.IsProcessingComplete(),
		Progress:             stats.Progress(),
	})
}

// StreamEvents handles GET /api/v1/batches/:session_id/stream
// Server-Sent Events until the client goes away.
func (h *QueueHandler) StreamEvents(c *gin.Context) {
	sessionID := c.Param("session_id")
	log := h.logger.With(slog.String("session_id", sessionID))

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	log.Info("Event stream opened")

	err := h.streamer.Stream(c.Request.Context(), sessionID, &sseSink{w: c.Writer})
	switch {
	case err == nil:
		log.Info("Event stream closed")
	case errors.Is(err, notify.ErrTransport):
		log.Info("Event stream torn down",
			slog.String("code", domain.CodeTransportFailure),
			slog.String("error", err.Error()),
		)
	default:
		log.Error("Event stream failed", slog.String("error", err.Error()))
		// headers are gone; tell the client in-band
		_ = sse.Encode(c.Writer, sse.Event{
			Event: "error",
			Data:  domain.NewInternalError(),
		})
		c.Writer.Flush()
	}
}

// RecentEvents handles GET /api/v1/batches/:session_id/events
// Replays the session journal oldest first, for clients that reconnect.
func (h *QueueHandler) RecentEvents(c *gin.Context) {
	sessionID := c.Param("session_id")

	events, err := h.journal.Recent(c.Request.Context(), sessionID)
	if err != nil {
		respondInternal(c, h.logger, "Failed to read recent events", err)
		return
	}
	if events == nil {
		events = []notify.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     events,
	})
}

type sseSink struct {
	w gin.ResponseWriter
}

func (s *sseSink) Send(ev notify.Event) error {
	if err := sse.Encode(s.w, sse.Event{Event: string(ev.Type), Data: ev}); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
