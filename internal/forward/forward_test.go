package forward

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ovationhq/ovation-notify/internal/notification"
)

type capturedSend struct {
	message string
	title   string
}

// fakeSender records deliveries and optionally fails them.
type fakeSender struct {
	mu    sync.Mutex
	sends []capturedSend
	err   error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	title := ""
	if params != nil {
		title = (*params)["title"]
	}
	f.sends = append(f.sends, capturedSend{message: message, title: title})
	if f.err != nil {
		return []error{f.err}
	}
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeSender) last() capturedSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[len(f.sends)-1]
}

func runForwarder(t *testing.T, f *Forwarder, store *notification.Store) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx, store)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestNewRequiresURLs(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

func TestForwardsNewArrivalsFlattened(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &fakeSender{}
	f := newWithSender([]string{"generic://localhost"}, sender)
	store := notification.NewStore(0)
	runForwarder(t, f, store)

	n := notification.NewNotification(notification.TypeBooking,
		"Booking requested", "<p>A fan requested a <b>video message</b></p>")
	store.AddNotification(n)

	require.Eventually(t, func() bool {
		return sender.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := sender.last()
	assert.Equal(t, "Booking requested", sent.title)
	assert.NotContains(t, sent.message, "<p>", "HTML bodies are flattened")
	assert.Contains(t, sent.message, "video message")
}

func TestOnlyGenuineArrivalsForward(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &fakeSender{}
	f := newWithSender([]string{"generic://localhost"}, sender)
	store := notification.NewStore(0)
	runForwarder(t, f, store)

	// Snapshots, count updates, status flips, and patches stay local.
	store.SetNotifications([]*notification.Notification{
		notification.NewNotification(notification.TypeSystem, "old", ""),
	})
	store.SetUnreadCount(4)
	store.SetConnectionStatus(true, "")
	existing := store.Notifications()[0]
	read := notification.StatusRead
	store.UpdateNotification(existing.ID, &notification.Patch{Status: &read})

	fresh := notification.NewNotification(notification.TypeMessage, "fresh", "")
	store.AddNotification(fresh)

	require.Eventually(t, func() bool {
		return sender.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fresh", sender.last().title)
}

func TestDeliveryFailureIsAbsorbed(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &fakeSender{err: fmt.Errorf("webhook down")}
	f := newWithSender([]string{"generic://localhost"}, sender)
	store := notification.NewStore(0)
	runForwarder(t, f, store)

	store.AddNotification(notification.NewNotification(notification.TypeEvent, "first", ""))
	store.AddNotification(notification.NewNotification(notification.TypeEvent, "second", ""))

	// Both attempts happen; the first failure does not stop the loop.
	require.Eventually(t, func() bool {
		return sender.count() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
