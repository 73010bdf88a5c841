package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ovationhq/ovation-notify/internal/httpclient"
	"github.com/ovationhq/ovation-notify/internal/notification"
)

// pollServer serves a canned poll payload and counts requests. When failing
// is set it returns 503 instead.
type pollServer struct {
	requests atomic.Int64
	failing  atomic.Bool
	srv      *httptest.Server
}

func newPollServer(t *testing.T, body string) *pollServer {
	t.Helper()
	ps := &pollServer{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.requests.Add(1)
		if ps.failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

const samplePayload = `{
	"notifications": [
		{"id": "n-2", "type": "message", "status": "unread", "title": "New message", "createdAt": "2026-08-28T10:05:00Z"},
		{"id": "n-1", "type": "booking", "status": "read", "title": "Booking confirmed", "createdAt": "2026-08-28T10:00:00Z"}
	],
	"unreadCount": 1,
	"timestamp": "2026-08-28T10:05:01Z"
}`

func TestPollerImmediateFetchAndReplace(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: time.Hour})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return store.Len() == 2
	}, 2*time.Second, 10*time.Millisecond, "first fetch happens immediately, not after an interval")

	assert.Equal(t, 1, store.UnreadCount())
	assert.Equal(t, "n-2", store.Notifications()[0].ID)
	assert.True(t, store.Status().Polling)
}

func TestPollerPeriodicFetches(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: 20 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return server.requests.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollerStartIdempotentStopClearsPolling(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: time.Hour})

	// Stop before Start must not panic.
	p.Stop()

	p.Start(context.Background())
	p.Start(context.Background())
	assert.True(t, p.Running())

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
	assert.False(t, store.Status().Polling)
}

func TestPollerFailuresAreSkipped(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	server.failing.Store(true)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: 20 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	// Failing fetches keep retrying on the interval and never touch the set.
	require.Eventually(t, func() bool {
		return server.requests.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, store.Len())

	// Recovery: the next tick replaces the set.
	server.failing.Store(false)
	require.Eventually(t, func() bool {
		return store.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollerOutageStatusAfterConsecutiveFailures(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	server.failing.Store(true)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: 10 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return store.Status().Err != ""
	}, 2*time.Second, 5*time.Millisecond)
	status := store.Status()
	assert.False(t, status.Connected)
	assert.True(t, status.Polling)
	assert.Equal(t, "notifications unavailable; showing cached data", status.Err)

	// A successful fetch clears the outage.
	server.failing.Store(false)
	require.Eventually(t, func() bool {
		return store.Status().Err == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPollNowWithoutStart(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: time.Hour})
	require.NoError(t, p.PollNow(context.Background()))
	assert.Equal(t, 2, store.Len())
	assert.False(t, store.Status().Polling, "an out-of-band fetch does not flip polling state")
}

func TestPollNowReturnsFetchError(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server := newPollServer(t, samplePayload)
	server.failing.Store(true)
	client := httpclient.New(nil)
	defer client.Close()
	store := notification.NewStore(0)

	p := New(client, store, Config{URL: server.srv.URL, Interval: time.Hour})
	require.Error(t, p.PollNow(context.Background()))
}
