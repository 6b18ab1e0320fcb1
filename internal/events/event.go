// Package events publishes session lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"fastbudget/internal/log"
)

type Type string

const (
	TypeResolved      Type = "session.resolved"
	TypeResolveFailed Type = "session.resolve_failed"
	TypeLoggedIn      Type = "session.logged_in"
	TypeLoggedOut     Type = "session.logged_out"
)

// Event is one session transition. It never carries the token.
type Event struct {
	Type      Type      `json:"type"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(t Type, clientID, userID, reason string) Event {
	return Event{
		Type:      t,
		ClientID:  clientID,
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogPublisher{logger: logger.WithComponent(log.ComponentEvents)}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "Session event",
		log.FieldEvent, string(e.Type),
		log.FieldClientID, e.ClientID,
		log.FieldUserID, e.UserID,
		"reason", e.Reason)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
