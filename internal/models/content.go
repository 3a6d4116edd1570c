package models

import "time"

// ContentType identifies the table a content item comes from.
type ContentType string

const (
	ContentAssignment   ContentType = "assignment"
	ContentAnnouncement ContentType = "announcement"
	ContentStudyGroup   ContentType = "study_group"
	ContentEvent        ContentType = "event"
	ContentSubmission   ContentType = "submission"
	ContentGrade        ContentType = "grade"
)

var contentTables = map[ContentType]string{
	ContentAssignment:   "assignments",
	ContentAnnouncement: "announcements",
	ContentStudyGroup:   "study_groups",
	ContentEvent:        "events",
	ContentSubmission:   "submissions",
	ContentGrade:        "grades",
}

// Table returns the backing table name.
func (t ContentType) Table() string {
	return contentTables[t]
}

// ContentTypeForTable maps a table name back to its content type.
func ContentTypeForTable(table string) (ContentType, bool) {
	for ct, name := range contentTables {
		if name == table {
			return ct, true
		}
	}
	return "", false
}

// Direct reports whether the type targets a single recipient instead of a TargetSpec.
func (t ContentType) Direct() bool {
	return t == ContentSubmission || t == ContentGrade
}

// Content statuses observed across the content tables.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusUpcoming  = "upcoming"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ContentItem is the common view over every content table.
type ContentItem struct {
	Type    ContentType `json:"type"`
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id"`
	Title   string      `json:"title"`
	Summary string      `json:"summary"`
	Status  string      `json:"status"`
	Target  TargetSpec  `json:"target"`
	// RecipientID is set for submission and grade events.
	RecipientID string `json:"recipient_id,omitempty"`
	// ParentID links a submission or grade to its assignment.
	ParentID  string     `json:"parent_id,omitempty"`
	EventDate *time.Time `json:"event_date,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Deliverable reports whether the item should reach its audience in its current status.
func (c ContentItem) Deliverable() bool {
	switch c.Type {
	case ContentAssignment:
		return c.Status == StatusPublished || c.Status == StatusActive
	case ContentStudyGroup:
		return c.Status == StatusActive
	case ContentAnnouncement:
		return c.Status != StatusDraft
	case ContentEvent:
		return c.Status != StatusDraft && c.Status != StatusCancelled
	case ContentSubmission, ContentGrade:
		return c.RecipientID != ""
	}
	return false
}

// Cursor is a position in a table's change order.
type Cursor struct {
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	ID        string    `db:"last_id" json:"id"`
}

// After reports whether (updatedAt, id) sorts strictly after the cursor.
func (c Cursor) After(updatedAt time.Time, id string) bool {
	if updatedAt.After(c.UpdatedAt) {
		return true
	}
	return updatedAt.Equal(c.UpdatedAt) && id > c.ID
}

// Cursor returns the change-order position of the item.
func (c ContentItem) Cursor() Cursor {
	return Cursor{UpdatedAt: c.UpdatedAt, ID: c.ID}
}
