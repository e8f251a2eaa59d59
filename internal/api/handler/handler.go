package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/api/domain"
	"github.com/cuongbtq/photobook-be/internal/batch"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/cuongbtq/photobook-be/internal/objectstore"
	"github.com/cuongbtq/photobook-be/internal/queue"
	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the caller's user id.
const UserIDKey = "user_id"

type BatchSubmitter interface {
	Submit(ctx context.Context, req batch.Request) (*batch.Result, error)
}

type JobReader interface {
	Get(ctx context.Context, jobID string) (*queue.Job, error)
	List(ctx context.Context, filter queue.Filter) ([]queue.Job, error)
	Stats(ctx context.Context, sessionID string) (queue.Stats, error)
}

type AlbumStore interface {
	GetAlbum(ctx context.Context, albumID string) (*album.Album, error)
	ListPhotos(ctx context.Context, albumID string) ([]album.Photo, error)
	DeleteAlbum(ctx context.Context, albumID string) error
}

type EventJournal interface {
	Recent(ctx context.Context, sessionID string) ([]notify.Event, error)
}

type EventStreamer interface {
	Stream(ctx context.Context, sessionID string, sink notify.Sink) error
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator BatchSubmitter
	Jobs         JobReader
	Albums       AlbumStore
	Storage      objectstore.Storage
	Journal      EventJournal
	Streamer     EventStreamer
	HealthChecks map[string]HealthCheck
	// MaxBodyBytes bounds request bodies; zero means unlimited.
	MaxBodyBytes int64
}

// userID returns the id set by the user middleware, if any.
func userID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func respondError(c *gin.Context, apiErr *domain.APIError) {
	c.JSON(apiErr.Status, apiErr)
}

// respondInternal logs err and answers with a generic 500.
func respondInternal(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Error(msg,
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	respondError(c, domain.NewInternalError())
}

func isNotFound(err error) bool {
	return errors.Is(err, queue.ErrJobNotFound) || errors.Is(err, album.ErrAlbumNotFound)
}
