package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ChangeEvent is the payload of a content_changes notification.
type ChangeEvent struct {
	Table     string    `json:"table"`
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseChangeEvent decodes a notification payload.
func ParseChangeEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table == "" || ev.ID == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: missing table or id in %q", payload)
	}
	return ev, nil
}

// Dialer opens a dedicated Postgres session.
type Dialer interface {
	Dial(ctx context.Context) (*pgx.Conn, error)
}

// ChangeStream yields content change events until closed.
type ChangeStream interface {
	Next(ctx context.Context) (ChangeEvent, error)
	Close(ctx context.Context) error
}

// PgChangeStream receives content change notifications on a LISTEN session.
// Notifications raised while the caller is busy elsewhere queue on the server
// side and are delivered on the next Next call.
type PgChangeStream struct {
	conn    *pgx.Conn
	channel string
}

// ChangeStreamOpener opens LISTEN sessions for a notification channel.
type ChangeStreamOpener struct {
	dialer  Dialer
	channel string
}

// NewChangeStreamOpener creates a new instance of ChangeStreamOpener.
func NewChangeStreamOpener(dialer Dialer, channel string) *ChangeStreamOpener {
	return &ChangeStreamOpener{dialer: dialer, channel: channel}
}

// Open connects and issues LISTEN before returning.
func (o *ChangeStreamOpener) Open(ctx context.Context) (ChangeStream, error) {
	conn, err := o.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{o.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", o.channel, err)
	}
	return &PgChangeStream{conn: conn, channel: o.channel}, nil
}

// Next blocks until the next well-formed notification arrives.
func (s *PgChangeStream) Next(ctx context.Context) (ChangeEvent, error) {
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("wait for notification: %w", err)
		}
		if n.Channel != s.channel {
			continue
		}
		ev, err := ParseChangeEvent(n.Payload)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// Close ends the LISTEN session.
func (s *PgChangeStream) Close(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}
