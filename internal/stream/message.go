package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ovationhq/ovation-notify/internal/notification"
)

// Kind identifies a stream message type.
type Kind string

// Message kinds pushed by the notification stream.
const (
	KindConnected           Kind = "connected"
	KindInitialSnapshot     Kind = "initial_notifications"
	KindUnreadCount         Kind = "unread_count"
	KindNewNotification     Kind = "new_notification"
	KindNotificationUpdated Kind = "notification_updated"
	KindRealtimeConnected   Kind = "realtime_connected"
	KindRealtimeError       Kind = "realtime_error"
	KindRealtimeUnavailable Kind = "realtime_unavailable"
	KindReconnectRequired   Kind = "reconnect_required"
)

// Reconnect reasons that require a session refresh before reconnecting.
const (
	ReasonSessionExpiring = "session_expiring"
	ReasonSessionExpired  = "session_expired"
)

// Message is the JSON envelope carried in each stream frame. Only the fields
// relevant to the frame's kind are populated; Notification stays raw so
// upserts and partial updates can be decoded per kind.
type Message struct {
	Type          Kind                         `json:"type"`
	Timestamp     time.Time                    `json:"timestamp"`
	Notifications []*notification.Notification `json:"notifications"`
	Notification  json.RawMessage              `json:"notification"`
	Count         int                          `json:"count"`
	Error         string                       `json:"error"`
	Reason        string                       `json:"reason"`
}

// parseMessage decodes one frame payload.
func parseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode stream message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("stream message missing type")
	}
	return &msg, nil
}

// decodeNotification decodes the notification field of a new_notification
// frame. Returns nil when the field is absent.
func (m *Message) decodeNotification() (*notification.Notification, error) {
	if len(m.Notification) == 0 || string(m.Notification) == "null" {
		return nil, nil
	}
	var n notification.Notification
	if err := json.Unmarshal(m.Notification, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	return &n, nil
}

// decodeUpdate decodes the notification field of a notification_updated
// frame into its identity and the partial update to merge.
func (m *Message) decodeUpdate() (string, *notification.Patch, error) {
	if len(m.Notification) == 0 || string(m.Notification) == "null" {
		return "", nil, fmt.Errorf("update payload missing notification")
	}
	var ident struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(m.Notification, &ident); err != nil {
		return "", nil, fmt.Errorf("failed to decode update identity: %w", err)
	}
	if ident.ID == "" {
		return "", nil, fmt.Errorf("update payload missing id")
	}
	var patch notification.Patch
	if err := json.Unmarshal(m.Notification, &patch); err != nil {
		return "", nil, fmt.Errorf("failed to decode update patch: %w", err)
	}
	return ident.ID, &patch, nil
}

// sessionReason reports whether a reconnect_required reason obliges a
// session refresh before the next connection attempt.
func sessionReason(reason string) bool {
	return reason == ReasonSessionExpiring || reason == ReasonSessionExpired
}
