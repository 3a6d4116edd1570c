package dto

import (
	"time"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// Digest counter names.
const (
	CounterTotalAssignments    = "total_assignments"
	CounterPendingAssignments  = "pending_assignments"
	CounterUnreadAnnouncements = "unread_announcements"
	CounterActiveStudyGroups   = "active_study_groups"
	CounterUpcomingEvents      = "upcoming_events"
	CounterPendingGrading      = "pending_grading"
	CounterTotalAnnouncements  = "total_announcements"
	CounterRecentSubmissions   = "recent_submissions"
)

// HubItem is one entry of a digest stream.
type HubItem struct {
	ID        string             `json:"id"`
	Type      models.ContentType `json:"type"`
	Title     string             `json:"title"`
	Summary   string             `json:"summary,omitempty"`
	Status    string             `json:"status"`
	OwnerID   string             `json:"owner_id,omitempty"`
	DueDate   *time.Time         `json:"due_date,omitempty"`
	EventDate *time.Time         `json:"event_date,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
	// Submitted is only set on student assignment entries.
	Submitted *bool `json:"submitted,omitempty"`
	// Read is only set on student announcement entries.
	Read *bool `json:"read,omitempty"`
}

// HubFeedResponse is the ephemeral "today" digest of a user.
type HubFeedResponse struct {
	UserID        string                `json:"user_id"`
	Role          models.UserRole       `json:"role"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Assignments   []HubItem             `json:"assignments"`
	Announcements []HubItem             `json:"announcements"`
	StudyGroups   []HubItem             `json:"study_groups"`
	Events        []HubItem             `json:"events,omitempty"`
	Submissions   []HubItem             `json:"submissions,omitempty"`
	Notifications []models.Notification `json:"notifications"`
	Counters      map[string]int        `json:"counters"`
}
