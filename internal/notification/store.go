package notification

import (
	"log/slog"
	"sync"
)

// DefaultMaxNotifications caps how many notifications the store retains.
// The server remains authoritative; the cap only bounds client memory.
const DefaultMaxNotifications = 1000

// subscriberBufferSize is the per-subscriber event channel buffer.
const subscriberBufferSize = 32

// EventKind identifies what changed in the store.
type EventKind string

const (
	// EventSnapshot fires after a full replace of the notification set
	EventSnapshot EventKind = "snapshot"
	// EventAdded fires when a new notification is prepended
	EventAdded EventKind = "added"
	// EventUpdated fires when an existing notification is patched or upserted
	EventUpdated EventKind = "updated"
	// EventUnreadCount fires when the unread counter changes
	EventUnreadCount EventKind = "unread_count"
	// EventStatus fires when the connection status changes
	EventStatus EventKind = "status"
)

// Event is delivered to store subscribers on every mutation.
type Event struct {
	Kind EventKind
	// Notification is set for EventAdded and EventUpdated
	Notification *Notification
	// UnreadCount is set for EventUnreadCount
	UnreadCount int
	// Status is set for EventStatus
	Status ConnectionStatus
}

// Store is the process-wide observable notification state. All setters are
// synchronous and free of side effects beyond mutating state and fanning out
// change events: they never perform network calls, which keeps the store a
// pure sink testable in isolation.
//
// Fan-out is best effort: a subscriber whose channel is full drops events
// rather than backpressuring the delivery path.
type Store struct {
	mu            sync.RWMutex
	notifications []*Notification // newest first
	byID          map[string]*Notification
	unreadCount   int
	status        ConnectionStatus
	maxSize       int

	subMu       sync.RWMutex
	subscribers map[uint64]chan Event
	nextSubID   uint64

	logger *slog.Logger
}

// NewStore creates an empty store. maxSize <= 0 selects the default cap.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxNotifications
	}
	return &Store{
		byID:        make(map[string]*Notification),
		subscribers: make(map[uint64]chan Event),
		maxSize:     maxSize,
		logger:      getLogger(),
	}
}

// SetNotifications replaces the full notification set. Used by the
// initial_notifications snapshot and by every poll response; a full replace
// is defined to win over any concurrently applied partial stream update.
func (s *Store) SetNotifications(list []*Notification) {
	s.mu.Lock()
	s.notifications = make([]*Notification, 0, len(list))
	s.byID = make(map[string]*Notification, len(list))
	for _, n := range list {
		if n == nil || n.ID == "" {
			continue
		}
		if _, dup := s.byID[n.ID]; dup {
			continue
		}
		clone := n.Clone()
		s.notifications = append(s.notifications, clone)
		s.byID[clone.ID] = clone
	}
	s.mu.Unlock()

	s.publish(Event{Kind: EventSnapshot})
}

// AddNotification prepends a notification, or upserts in place when the ID
// is already present (for example once via snapshot and once via push).
// Last write wins on non-identity fields; the stored list never contains
// two entries for one ID.
func (s *Store) AddNotification(n *Notification) {
	if n == nil || n.ID == "" {
		s.logger.Warn("ignoring notification without id")
		return
	}

	s.mu.Lock()
	existing, ok := s.byID[n.ID]
	if ok {
		*existing = *n.Clone()
	} else {
		clone := n.Clone()
		s.notifications = append([]*Notification{clone}, s.notifications...)
		s.byID[clone.ID] = clone
		s.enforceCapLocked()
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Kind: EventUpdated, Notification: n.Clone()})
	} else {
		s.publish(Event{Kind: EventAdded, Notification: n.Clone()})
	}
}

// UpdateNotification merges a patch into the stored entry. A missing ID is a
// logged no-op: the server may push updates for notifications that were
// never replicated here.
func (s *Store) UpdateNotification(id string, patch *Patch) {
	if id == "" || patch == nil {
		return
	}

	s.mu.Lock()
	existing, ok := s.byID[id]
	var updated *Notification
	if ok {
		patch.apply(existing)
		updated = existing.Clone()
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("update for unknown notification", "id", id)
		return
	}
	s.publish(Event{Kind: EventUpdated, Notification: updated})
}

// SetUnreadCount records the authoritative unread counter from the server.
// It is never recomputed locally: the server may count items that were not
// replicated to this client.
func (s *Store) SetUnreadCount(count int) {
	s.mu.Lock()
	changed := s.unreadCount != count
	s.unreadCount = count
	s.mu.Unlock()

	if changed {
		s.publish(Event{Kind: EventUnreadCount, UnreadCount: count})
	}
}

// SetConnectionStatus records whether the stream is connected, with an
// optional human-readable transient error.
func (s *Store) SetConnectionStatus(connected bool, errMsg string) {
	s.mu.Lock()
	s.status.Connected = connected
	s.status.Err = errMsg
	status := s.status
	s.mu.Unlock()

	s.publish(Event{Kind: EventStatus, Status: status})
}

// SetPolling records whether the polling fallback is the active mode.
func (s *Store) SetPolling(polling bool) {
	s.mu.Lock()
	s.status.Polling = polling
	status := s.status
	s.mu.Unlock()

	s.publish(Event{Kind: EventStatus, Status: status})
}

// Notifications returns a snapshot copy of the stored list, newest first.
func (s *Store) Notifications() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, len(s.notifications))
	for i, n := range s.notifications {
		out[i] = n.Clone()
	}
	return out
}

// Get returns a copy of one notification, or nil when absent.
func (s *Store) Get(id string) *Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone()
}

// Len returns the number of stored notifications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications)
}

// UnreadCount returns the last server-provided unread counter.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadCount
}

// Status returns the current connection status.
func (s *Store) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe registers a listener for store change events. Callers must
// Unsubscribe with the returned id to release resources.
func (s *Store) Subscribe() (uint64, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, subscriberBufferSize)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. Unknown ids are
// ignored; calling twice is safe.
func (s *Store) Unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// publish fans an event out to all subscribers, dropping for any whose
// buffer is full.
func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop for slow listener.
		}
	}
}

// enforceCapLocked trims the oldest entries beyond maxSize. Caller holds mu.
func (s *Store) enforceCapLocked() {
	for len(s.notifications) > s.maxSize {
		oldest := s.notifications[len(s.notifications)-1]
		s.notifications = s.notifications[:len(s.notifications)-1]
		delete(s.byID, oldest.ID)
	}
}
