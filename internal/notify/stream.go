package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sink writes events to one client connection.
type Sink interface {
	Send(ev Event) error
}

type StreamConfig struct {
	StatsInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Streamer serves push connections: it subscribes to a session, then
// interleaves bus events with periodic stats and heartbeats until the
// connection goes away.
type Streamer struct {
	bus    Subscriber
	stats  StatsSource
	config StreamConfig
	logger *slog.Logger
}

func NewStreamer(bus Subscriber, stats StatsSource, config StreamConfig, logger *slog.Logger) *Streamer {
	if config.StatsInterval <= 0 {
		config.StatsInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	return &Streamer{bus: bus, stats: stats, config: config, logger: logger}
}

// Stream runs until ctx is cancelled or sink fails. It returns nil on
// cancellation and an ErrTransport-wrapped error on sink failure. Every
// ticker and the subscription are released before it returns.
func (s *Streamer) Stream(ctx context.Context, sessionID string, sink Sink) error {
	sub, err := s.bus.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to open subscription: %w", err)
	}
	defer sub.Close()

	log := s.logger.With(slog.String("session_id", sessionID))

	send := func(ev Event) error {
		if err := sink.Send(ev); err != nil {
			log.Info("Client connection closed",
				slog.String("event", string(ev.Type)),
				slog.Any("error", err),
			)
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return nil
	}

	if err := send(NewEvent(EventConnected, sessionID, map[string]any{
		"session_id": sessionID,
		"message":    "Connected to album progress stream",
	})); err != nil {
		return err
	}

	statsTicker := time.NewTicker(s.config.StatsInterval)
	defer statsTicker.Stop()
	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Stream cancelled")
			return nil

		case <-statsTicker.C:
			stats, err := s.stats.Stats(ctx, sessionID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Warn("Failed to load queue stats", slog.Any("error", err))
				continue
			}
			if err := send(NewEvent(EventQueueStats, sessionID, StatsData(sessionID, stats))); err != nil {
				return err
			}

		case <-heartbeatTicker.C:
			if err := send(NewEvent(EventHeartbeat, sessionID, nil)); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: subscription closed", ErrTransport)
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
