package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "album-events:"
	journalPrefix = "album-events:log:"

	// JournalSize is how many recent events are kept per session.
	JournalSize = 50
	// JournalTTL is how long an idle session journal lives.
	JournalTTL = time.Hour
)

func channelKey(sessionID string) string { return channelPrefix + sessionID }
func journalKey(sessionID string) string { return journalPrefix + sessionID }

// RedisBus publishes events on per-session pub/sub channels and keeps a short
// journal of them in a capped list.
type RedisBus struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisBus(client redis.UniversalClient, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish sends ev to live subscribers and appends it to the session journal.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, channelKey(ev.SessionID), payload)
		pipe.LPush(ctx, journalKey(ev.SessionID), payload)
		pipe.LTrim(ctx, journalKey(ev.SessionID), 0, JournalSize-1)
		pipe.Expire(ctx, journalKey(ev.SessionID), JournalTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}

	b.logger.Debug("Event published",
		slog.String("type", string(ev.Type)),
		slog.String("session_id", ev.SessionID),
	)
	return nil
}

// Recent returns the journaled events of a session, oldest first.
func (b *RedisBus) Recent(ctx context.Context, sessionID string) ([]Event, error) {
	raw, err := b.client.LRange(ctx, journalKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event journal: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev Event
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			b.logger.Warn("Skipping unreadable journal entry",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe opens a pub/sub subscription for one session. The subscription
// is confirmed before returning, so events published afterwards are seen.
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channelKey(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to session %s: %w", sessionID, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		logger: b.logger,
	}
	go sub.forward(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) forward(messages <-chan *redis.Message) {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("Dropping malformed event",
					slog.String("channel", msg.Channel),
					slog.Any("error", err),
				)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
