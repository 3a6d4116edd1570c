package models

import "time"

// Notification is a durable per-user record. (ContentID, ContentType, RecipientID) is unique.
type Notification struct {
	ID          string      `db:"id" json:"id"`
	RecipientID string      `db:"recipient_id" json:"recipient_id"`
	ContentID   string      `db:"content_id" json:"content_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	Title       string      `db:"title" json:"title"`
	Message     string      `db:"message" json:"message"`
	IsRead      bool        `db:"is_read" json:"is_read"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	ReadAt      *time.Time  `db:"read_at" json:"read_at,omitempty"`
}

// NotificationFilter narrows a user's notification listing.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Limit       int
}

// NotificationSelector addresses a bulk mutation: either explicit ids or every row of the user.
type NotificationSelector struct {
	RecipientID string
	IDs         []string
	All         bool
}

// DispatchRecord remembers the last completed fan-out for a content item.
type DispatchRecord struct {
	ContentType  ContentType `db:"content_type"`
	ContentID    string      `db:"content_id"`
	Version      time.Time   `db:"version"`
	AudienceHash string      `db:"audience_hash"`
	AudienceSize int         `db:"audience_size"`
	Delivered    int         `db:"delivered"`
	Complete     bool        `db:"complete"`
	UpdatedAt    time.Time   `db:"updated_at"`
}
