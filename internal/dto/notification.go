package dto

// NotificationMutationRequest addresses a mark-read or delete call: explicit ids or every row.
type NotificationMutationRequest struct {
	IDs       []string `json:"ids" validate:"omitempty,max=500,dive,required"`
	MarkAll   bool     `json:"mark_all"`
	DeleteAll bool     `json:"delete_all"`
}

// NotificationMutationResponse reports how many rows a mutation touched.
type NotificationMutationResponse struct {
	Affected    int64 `json:"affected"`
	UnreadCount int   `json:"unread_count"`
}

// UnreadCountResponse carries the unread counter of a user.
type UnreadCountResponse struct {
	UserID      string `json:"user_id"`
	UnreadCount int    `json:"unread_count"`
}
