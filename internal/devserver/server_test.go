package devserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovationhq/ovation-notify/internal/httpclient"
	"github.com/ovationhq/ovation-notify/internal/notification"
	"github.com/ovationhq/ovation-notify/internal/poll"
	"github.com/ovationhq/ovation-notify/internal/session"
	"github.com/ovationhq/ovation-notify/internal/stream"
)

type harness struct {
	server *Server
	url    string
	client *httpclient.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := New(Config{SessionTTL: time.Minute})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	client := httpclient.New(nil)
	t.Cleanup(client.Close)

	return &harness{server: s, url: srv.URL, client: client}
}

func (h *harness) inject(t *testing.T, title, message string) *notification.Notification {
	t.Helper()
	var created notification.Notification
	err := h.client.PostJSON(context.Background(), h.url+"/api/v1/notifications",
		map[string]any{"type": "message", "title": title, "message": message}, &created)
	require.NoError(t, err)
	return &created
}

func TestPollEndpointReflectsInjections(t *testing.T) {
	h := newHarness(t)

	h.inject(t, "Booking requested", "A fan requested a video")
	h.inject(t, "New message", "You have mail")

	var payload struct {
		Notifications []*notification.Notification `json:"notifications"`
		UnreadCount   int                          `json:"unreadCount"`
		Timestamp     time.Time                    `json:"timestamp"`
	}
	err := h.client.GetJSON(context.Background(), h.url+"/api/v1/notifications", &payload)
	require.NoError(t, err)

	require.Len(t, payload.Notifications, 2)
	assert.Equal(t, "New message", payload.Notifications[0].Title, "newest first")
	assert.Equal(t, 2, payload.UnreadCount)
	assert.False(t, payload.Timestamp.IsZero())
}

func TestSessionRefreshIssuesToken(t *testing.T) {
	h := newHarness(t)

	var issued struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	err := h.client.PostJSON(context.Background(), h.url+"/api/v1/session/refresh", nil, &issued)
	require.NoError(t, err)

	assert.NotEmpty(t, issued.Token)
	assert.True(t, issued.ExpiresAt.After(time.Now()))
	assert.True(t, h.server.ValidToken(issued.Token))
	assert.False(t, h.server.ValidToken("never-issued"))
}

func TestMarkReadAdjustsUnread(t *testing.T) {
	h := newHarness(t)

	created := h.inject(t, "Payout sent", "")
	err := h.client.PostJSON(context.Background(),
		h.url+"/api/v1/notifications/"+created.ID+"/read", nil, nil)
	require.NoError(t, err)

	list, unread := h.server.snapshot()
	assert.Zero(t, unread)
	assert.Equal(t, notification.StatusRead, list[0].Status)

	err = h.client.PostJSON(context.Background(),
		h.url+"/api/v1/notifications/does-not-exist/read", nil, nil)
	require.Error(t, err)
}

func TestControlRequiresType(t *testing.T) {
	h := newHarness(t)

	err := h.client.PostJSON(context.Background(),
		h.url+"/api/v1/notifications/control", map[string]any{"reason": "x"}, nil)
	require.Error(t, err)
}

// TestClientEndToEnd runs the real delivery core against the devserver:
// connect, receive the snapshot, see a live push, a read-state update, and a
// scripted soft degrade.
func TestClientEndToEnd(t *testing.T) {
	h := newHarness(t)

	seeded := h.inject(t, "Booking requested", "A fan requested a video")

	store := notification.NewStore(0)
	provider := session.NewAPIProvider(h.client, h.url+"/api/v1/session/refresh")
	poller := poll.New(h.client, store, poll.Config{
		URL:      h.url + "/api/v1/notifications",
		Interval: time.Hour,
	})
	mgr := stream.NewManager(h.client, store, provider, poller, stream.ManagerConfig{
		StreamURL: h.url + "/api/v1/notifications/stream",
	})

	mgr.Connect(context.Background())
	defer mgr.Disconnect()

	// Handshake and snapshot.
	require.Eventually(t, func() bool {
		return store.Status().Connected && store.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, seeded.ID, store.Notifications()[0].ID)
	assert.Equal(t, 1, store.UnreadCount())

	// Live push.
	pushed := h.inject(t, "New message", "<p>You have <b>mail</b></p>")
	require.Eventually(t, func() bool {
		return store.Len() == 2 && store.UnreadCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, pushed.ID, store.Notifications()[0].ID)

	// Read-state update travels as a patch.
	err := h.client.PostJSON(context.Background(),
		h.url+"/api/v1/notifications/"+pushed.ID+"/read", nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n := store.Get(pushed.ID)
		return n != nil && n.Status == notification.StatusRead && store.UnreadCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Scripted soft degrade: polling starts, no user-visible error.
	err = h.client.PostJSON(context.Background(),
		h.url+"/api/v1/notifications/control", map[string]any{"type": "realtime_unavailable"}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.Status().Polling
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, store.Status().Err)
}
