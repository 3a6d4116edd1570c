package models

// SignalKind enumerates live channel frames.
type SignalKind string

const (
	SignalContentChanged SignalKind = "content_changed"
	SignalFullResync     SignalKind = "full_resync"
)

// Signal tells a dashboard that something changed. It never carries the content itself.
type Signal struct {
	Kind        SignalKind  `json:"kind"`
	ContentType ContentType `json:"content_type,omitempty"`
	ContentID   string      `json:"content_id,omitempty"`
}

// Key identifies signals that can be coalesced.
func (s Signal) Key() string {
	return string(s.Kind) + ":" + string(s.ContentType) + ":" + s.ContentID
}
