// Package notification holds the client-side notification model and the
// process-wide observable store that presentation code consumes. The store is
// the only surface the delivery core exposes to consumers: stream and poll
// handlers write into it, subscribers observe it.
package notification

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Type categorizes a notification as produced by the platform.
type Type string

const (
	// TypeBooking indicates booking lifecycle events (requested, accepted, declined)
	TypeBooking Type = "booking"
	// TypeMessage indicates a new direct message from a creator or fan
	TypeMessage Type = "message"
	// TypePayment indicates payment and payout events
	TypePayment Type = "payment"
	// TypeEvent indicates live-event announcements and reminders
	TypeEvent Type = "event"
	// TypeSystem indicates platform status notifications
	TypeSystem Type = "system"
)

// Status represents the read state of a notification
type Status string

const (
	// StatusUnread indicates the notification hasn't been seen
	StatusUnread Status = "unread"
	// StatusRead indicates the notification has been seen
	StatusRead Status = "read"
)

// Notification represents a single notification event replicated from the
// server. Identity is ID; updates are idempotent upserts keyed by ID.
// Notifications are never deleted client-side, only marked read.
type Notification struct {
	// ID is the unique identifier assigned by the server
	ID string `json:"id"`
	// Type categorizes the notification
	Type Type `json:"type"`
	// Status tracks whether the notification has been read
	Status Status `json:"status"`
	// Title is a short summary
	Title string `json:"title"`
	// Message provides detail; may contain HTML from the web product
	Message string `json:"message"`
	// Metadata carries the opaque payload attached by the server
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is the server-side creation time
	CreatedAt time.Time `json:"createdAt"`
}

// NewNotification creates a notification with a unique ID and timestamp.
// Used by tests and the development server; real notifications originate
// server-side.
func NewNotification(notifType Type, title, message string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Type:      notifType,
		Status:    StatusUnread,
		Title:     title,
		Message:   message,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// WithMetadata adds a metadata entry and returns the notification for chaining
func (n *Notification) WithMetadata(key string, value any) *Notification {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
	return n
}

// MarkAsRead updates the notification status to read
func (n *Notification) MarkAsRead() {
	n.Status = StatusRead
}

// Clone creates a copy of the notification with its own metadata map, so a
// broadcast copy can never race with later mutation of the original.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Metadata != nil {
		clone.Metadata = make(map[string]any, len(n.Metadata))
		maps.Copy(clone.Metadata, n.Metadata)
	}
	return &clone
}

// Patch is a partial notification update, as delivered by the
// notification_updated stream message. Nil fields leave the stored value
// unchanged; JSON decoding captures field presence through the pointers.
type Patch struct {
	Type     *Type          `json:"type,omitempty"`
	Status   *Status        `json:"status,omitempty"`
	Title    *string        `json:"title,omitempty"`
	Message  *string        `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// apply merges the patch into n.
func (p *Patch) apply(n *Notification) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.Metadata != nil {
		if n.Metadata == nil {
			n.Metadata = make(map[string]any, len(p.Metadata))
		}
		maps.Copy(n.Metadata, p.Metadata)
	}
}

// ConnectionStatus describes the delivery mode presented to consumers.
// Exactly one of streaming or polling is the declared active mode at any
// instant; a brief overlap during handoff is tolerated so delivery never
// gaps.
type ConnectionStatus struct {
	// Connected is true while the event stream is open
	Connected bool `json:"isConnected"`
	// Polling is true while the polling fallback is the active mode
	Polling bool `json:"isPolling"`
	// Err is a human-readable, non-blocking indicator; empty when healthy.
	// Soft degrades never populate it.
	Err string `json:"error,omitempty"`
}
