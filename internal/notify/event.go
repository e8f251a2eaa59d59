// Package notify carries album lifecycle events from workers to connected
// clients. Events travel over Redis pub/sub and are journaled per session so
// late subscribers can catch up. They are never the source of truth; the job
// table is.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/photobook-be/internal/queue"
)

type EventType string

const (
	EventConnected      EventType = "connected"
	EventQueueStats     EventType = "queue_stats"
	EventAlbumProgress  EventType = "album_progress"
	EventAlbumCompleted EventType = "album_completed"
	EventAlbumFailed    EventType = "album_failed"
	EventHeartbeat      EventType = "heartbeat"
)

// ErrTransport wraps failures writing to a client connection.
var ErrTransport = errors.New("transport failure")

type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewEvent(t EventType, sessionID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, SessionID: sessionID, Data: data, Timestamp: time.Now().UTC()}
}

// Publisher delivers an event to every subscriber of its session.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber opens per-connection subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is one connection's view of a session's events. Events is
// closed after Close or when the underlying transport goes away.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// StatsSource reports queue counts for a session.
type StatsSource interface {
	Stats(ctx context.Context, sessionID string) (queue.Stats, error)
}

// StatsData renders stats the way status responses do.
func StatsData(sessionID string, s queue.Stats) map[string]any {
	return map[string]any{
		"session_id":             sessionID,
		"waiting":                s.Waiting,
		"active":                 s.Active,
		"completed":              s.Completed,
		"failed":                 s.Failed,
		"total_jobs":             s.TotalJobs(),
		"is_processing_complete": s.IsProcessingComplete(),
		"progress":               s.Progress(),
	}
}
