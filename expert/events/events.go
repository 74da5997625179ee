package events

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	qstashx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/qstash"
)

// New stamps and returns an event. The timestamp comes from the caller so
// services with injected clocks produce reproducible streams.
func New(evType contractx.EventType, sessionID string, at time.Time) contractx.Event {
	return contractx.Event{Type: evType, SessionID: sessionID, At: at.UTC()}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, contractx.Event) {}

// Log writes events to the structured log. This is the default publisher.
type Log struct {
	logger zerolog.Logger
}

var _ contractx.Publisher = (*Log)(nil)

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, ev contractx.Event) {
	entry := l.logger.Info().
		Str("event", string(ev.Type)).
		Str("session_id", ev.SessionID).
		Time("at", ev.At)
	if ev.Role != "" {
		entry = entry.Str("role", string(ev.Role))
	}
	if ev.Round > 0 {
		entry = entry.Int("round", ev.Round)
	}
	if ev.Detail != "" {
		entry = entry.Str("detail", ev.Detail)
	}
	entry.Msg("consultation event")
}

// QStash forwards events to a QStash topic so external consumers can react to
// consultation lifecycle changes. Delivery failures are logged and swallowed;
// a consultation never fails because its event stream is down.
type QStash struct {
	client *qstashx.Client
	topic  string
	logger zerolog.Logger
}

var _ contractx.Publisher = (*QStash)(nil)

func NewQStash(client *qstashx.Client, topic string, logger zerolog.Logger) *QStash {
	if strings.TrimSpace(topic) == "" {
		topic = "counsel-events"
	}
	return &QStash{client: client, topic: topic, logger: logger}
}

func (q *QStash) Publish(ctx context.Context, ev contractx.Event) {
	if q.client == nil {
		return
	}
	if _, err := q.client.Publish(ctx, q.topic, ev); err != nil {
		q.logger.Warn().
			Err(err).
			Str("event", string(ev.Type)).
			Str("session_id", ev.SessionID).
			Msg("event delivery failed")
	}
}

// Multi fans one event out to every configured publisher in order.
type Multi []contractx.Publisher

var _ contractx.Publisher = (Multi)(nil)

func (m Multi) Publish(ctx context.Context, ev contractx.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}
