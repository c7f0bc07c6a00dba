// Package events publishes progression events to Redis pub/sub
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types
const (
	TypeSessionCompleted = "session_completed"
	TypeXPAwarded        = "xp_awarded"
)

// DefaultChannel is the pub/sub channel events go to
const DefaultChannel = "progression:events"

// Event is the published payload
type Event struct {
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id,omitempty"`
	XPEarned     int64     `json:"xp_earned"`
	NewLevel     int       `json:"new_level"`
	LeveledUp    bool      `json:"leveled_up"`
	Achievements []string  `json:"achievements"`
	At           time.Time `json:"at"`
}

// Publisher delivers events after the change they describe has committed
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes JSON events on a channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// Connect parses redisURL and verifies the server answers
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisPublisher publishes on channel, or DefaultChannel when empty
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends e; the returned error is for logging only
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.Achievements == nil {
		e.Achievements = []string{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// Close releases the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
