// Package progress delivers refresh status events to whatever wants them
// (a UI over Redis pub/sub, the log, or nothing). Emission is one-way and
// best-effort: a sink failure never affects the refresh.
package progress

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/voyagen/streamvault/internal/cache"
)

// Event is one refresh progress update. Metrics carries phase-specific
// counters (streams_created, time_remaining, ...) without a fixed schema.
type Event struct {
	Type      string         `json:"type"`
	AccountID int64          `json:"account"`
	RunID     string         `json:"run_id,omitempty"`
	Phase     string         `json:"phase"`
	Percent   float64        `json:"progress"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Sink receives refresh progress events. Implementations swallow their own
// failures; Emit has no error return by design of the contract.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Channel is the Redis pub/sub channel refresh updates are published to.
const Channel = "streamvault:updates"

// Event types.
const (
	TypeRefreshProgress = "refresh"
)

// RedisSink publishes events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	r   *cache.Redis
	log *logrus.Entry
}

// NewRedisSink returns a sink publishing to Channel on r.
func NewRedisSink(r *cache.Redis) *RedisSink {
	return &RedisSink{r: r, log: logrus.WithField("component", "progress")}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) {
	if ev.Type == "" {
		ev.Type = TypeRefreshProgress
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Warn("marshal progress event")
		return
	}
	if err := s.r.Client().Publish(ctx, Channel, data).Err(); err != nil {
		s.log.WithError(err).Debug("publish progress event")
	}
}

// LogSink writes events to the structured log. Useful when Redis is not
// configured.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, ev Event) {
	logrus.WithFields(logrus.Fields{
		"account": ev.AccountID,
		"phase":   ev.Phase,
		"percent": ev.Percent,
		"status":  ev.Status,
	}).Debug(ev.Message)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(ctx context.Context, ev Event) {}
