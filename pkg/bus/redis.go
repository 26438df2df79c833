// Package bus implements the optional cross-process observability
// mirror: a best-effort publish of Hub connect/disconnect/room-change
// events to a Redis pub/sub channel, adapted from the teacher's
// internal/v1/bus/redis.go. It never feeds back into dispatch or
// membership — spec.md's Non-goals exclude cross-node consistency
// guarantees, and this package does not attempt to provide any.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/metrics"
	"github.com/relaymesh/kernel/pkg/types"
)

// Event is the envelope published for every mirrored Hub event.
type Event struct {
	Kind      string `json:"kind"` // "connect" | "disconnect" | "room"
	ClientID  string `json:"clientId"`
	Transport string `json:"transport,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Room      string `json:"room,omitempty"`
	Action    string `json:"action,omitempty"` // "join" | "leave"
	At        int64  `json:"at"`
}

// RedisMirror publishes hub.Mirror events to a single Redis channel,
// guarded by a circuit breaker so a down Redis degrades to a dropped
// publish rather than blocking the Hub.
type RedisMirror struct {
	client  *redis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewRedisMirror dials addr and returns a ready mirror. It does not
// retry; callers decide whether a failed Ping is fatal to startup.
func NewRedisMirror(addr, password, channel string, log *logging.Logger) (*RedisMirror, error) {
	if log == nil {
		log = logging.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "bus.redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(circuitStateValue(to))
		},
	}

	return &RedisMirror{
		client:  client,
		channel: channel,
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     log,
	}, nil
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (m *RedisMirror) publish(ev Event) {
	ev.At = time.Now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("bus: marshal event failed", logging.Err(err))
		return
	}

	_, err = m.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return nil, m.client.Publish(ctx, m.channel, data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			m.log.Debug("bus: circuit open, dropping publish")
			return
		}
		m.log.Error("bus: publish failed", logging.Err(err))
	}
}

// PublishConnect implements hub.Mirror.
func (m *RedisMirror) PublishConnect(id types.ClientID, transport string) {
	m.publish(Event{Kind: "connect", ClientID: string(id), Transport: transport})
}

// PublishDisconnect implements hub.Mirror.
func (m *RedisMirror) PublishDisconnect(id types.ClientID, reason string) {
	m.publish(Event{Kind: "disconnect", ClientID: string(id), Reason: reason})
}

// PublishRoomChange implements hub.Mirror.
func (m *RedisMirror) PublishRoomChange(id types.ClientID, room, action string) {
	m.publish(Event{Kind: "room", ClientID: string(id), Room: room, Action: action})
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
