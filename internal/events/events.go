// Package events publishes auth lifecycle events for downstream consumers
// (audit, security alerting). Publishing is best-effort.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Event types.
const (
	UserRegistered     = "user.registered"
	UserLoggedIn       = "user.logged_in"
	SessionRefreshed   = "session.refreshed"
	SessionExpired     = "session.expired"
	SessionRevoked     = "session.revoked"
	SessionsRevokedAll = "sessions.revoked_all"
)

// Event is the JSON payload published per lifecycle change. It never carries
// token values or credentials.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	Count      int64     `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events on <subject>.<type> over core NATS.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	node    int64
}

// NewNATSPublisher connects to url. node seeds the snowflake event ids.
func NewNATSPublisher(url, subject string, node int64, opts ...nats.Option) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errors.New("events: subject is required")
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, subject: subject, node: node}, nil
}

// Publish stamps e with an id and time when missing and publishes it as JSON.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp(&e, p.node)
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+e.Type, data)
}

// Close drains the connection so buffered events are flushed.
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

func stamp(e *Event, node int64) {
	if e.ID == "" {
		e.ID = utilities.NewSnowflakeIDWithNode(node)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
}
