// Package status publishes connection state and latency to Redis pub/sub.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/domain"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	SessionID     string
}

// Payload is the JSON document published on the status channel.
type Payload struct {
	Session   string    `json:"session"`
	Kind      string    `json:"kind"` // "state" or "latency"
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	DelayMs   int64     `json:"delay_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
	Fatal     bool      `json:"fatal,omitempty"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	At        time.Time `json:"at"`
}

var _ domain.StatusPublisher = (*Publisher)(nil)

// Publisher implements domain.StatusPublisher over Redis pub/sub.
// Connection observers reach it through a Relay.
type Publisher struct {
	rdb     *redis.Client
	channel string
	session string
}

// NewPublisher connects to Redis and verifies it with a ping.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newPublisher(rdb, cfg), nil
}

func newPublisher(rdb *redis.Client, cfg Config) *Publisher {
	return &Publisher{
		rdb:     rdb,
		channel: ChannelName(cfg.ChannelPrefix, cfg.SessionID),
		session: cfg.SessionID,
	}
}

// ChannelName returns the pub/sub channel for a session.
func ChannelName(prefix, sessionID string) string {
	if prefix == "" {
		prefix = "orderflow:status"
	}
	return prefix + ":" + sessionID
}

// Channel returns the pub/sub channel this publisher writes to.
func (p *Publisher) Channel() string {
	return p.channel
}

// StatePayload builds the document for a state transition.
func StatePayload(session string, change domain.StateChange) Payload {
	pl := Payload{
		Session: session,
		Kind:    "state",
		From:    change.From.String(),
		To:      change.To.String(),
		Attempt: change.Attempt,
		DelayMs: change.Delay.Milliseconds(),
		At:      change.At,
	}
	if change.Err != nil {
		pl.Error = change.Err.Error()
		var fatal *domain.FatalConnectivityError
		pl.Fatal = errors.As(change.Err, &fatal)
	}
	if pl.At.IsZero() {
		pl.At = time.Now()
	}
	return pl
}

// LatencyPayload builds the document for a heartbeat latency sample.
func LatencyPayload(session string, latency time.Duration, at time.Time) Payload {
	return Payload{
		Session:   session,
		Kind:      "latency",
		LatencyMs: float64(latency.Microseconds()) / 1000,
		At:        at,
	}
}

// PublishState publishes one state transition.
func (p *Publisher) PublishState(ctx context.Context, change domain.StateChange) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, StatePayload(p.session, change))
}

// PublishLatency publishes one heartbeat latency sample stamped with the current time.
func (p *Publisher) PublishLatency(ctx context.Context, latency time.Duration) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, LatencyPayload(p.session, latency, time.Now()))
}

func (p *Publisher) publish(ctx context.Context, pl Payload) error {
	if p.rdb == nil {
		return nil
	}
	data, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
