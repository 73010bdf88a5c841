package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ovationhq/ovation-notify/internal/notification"
)

func newTestCache(t *testing.T, maxSize int) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "notifications.db"), maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLoadEmptyCache(t *testing.T) {
	c := newTestCache(t, 0)

	list, unread, err := c.Load()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, unread)
}

func TestMirrorWritesThrough(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCache(t, 0)
	store := notification.NewStore(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Mirror(ctx, store)
	}()

	n := notification.NewNotification(notification.TypeBooking, "Booking requested", "A fan requested a video")
	n.WithMetadata("bookingId", "b-1")
	store.AddNotification(n)
	store.SetUnreadCount(5)

	require.Eventually(t, func() bool {
		list, unread, err := c.Load()
		return err == nil && len(list) == 1 && unread == 5
	}, 2*time.Second, 10*time.Millisecond)

	list, _, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, n.ID, list[0].ID)
	assert.Equal(t, "Booking requested", list[0].Title)
	assert.Equal(t, "b-1", list[0].Metadata["bookingId"])

	cancel()
	<-done
}

func TestMirrorReplacesOnSnapshot(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCache(t, 0)
	store := notification.NewStore(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Mirror(ctx, store)
	}()

	store.AddNotification(notification.NewNotification(notification.TypeSystem, "stale", ""))
	require.Eventually(t, func() bool {
		list, _, err := c.Load()
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fresh := notification.NewNotification(notification.TypeMessage, "fresh", "")
	store.SetNotifications([]*notification.Notification{fresh})

	require.Eventually(t, func() bool {
		list, _, err := c.Load()
		return err == nil && len(list) == 1 && list[0].ID == fresh.ID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSeedRestoresAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notifications.db")

	c, err := Open(path, 0)
	require.NoError(t, err)

	n := notification.NewNotification(notification.TypePayment, "Payout sent", "$120 on its way")
	require.NoError(t, c.upsert(n))
	require.NoError(t, c.setUnread(3))
	require.NoError(t, c.Close())

	reopened, err := Open(path, 0)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	store := notification.NewStore(0)
	require.NoError(t, reopened.Seed(store))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 3, store.UnreadCount())
	assert.Equal(t, "Payout sent", store.Get(n.ID).Title)
}

func TestPruneKeepsNewest(t *testing.T) {
	c := newTestCache(t, 3)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		n := notification.NewNotification(notification.TypeEvent, fmt.Sprintf("event %d", i), "")
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, c.upsert(n))
	}

	list, _, err := c.Load()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "event 4", list[0].Title, "newest survive the prune")
	assert.Equal(t, "event 2", list[2].Title)
}

func TestUpsertIsIdempotent(t *testing.T) {
	c := newTestCache(t, 0)

	n := notification.NewNotification(notification.TypeMessage, "hello", "")
	require.NoError(t, c.upsert(n))
	n.MarkAsRead()
	require.NoError(t, c.upsert(n))

	list, _, err := c.Load()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notification.StatusRead, list[0].Status)
}
