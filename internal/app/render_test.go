package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ovationhq/ovation-notify/internal/notification"
)

func TestRenderNotificationFlattensHTML(t *testing.T) {
	t.Parallel()

	n := notification.NewNotification(notification.TypeMessage,
		"New message", "<p>You have <b>mail</b></p>")

	out := renderNotification(n)
	assert.Contains(t, out, "[message] New message")
	assert.Contains(t, out, "mail")
	assert.NotContains(t, out, "<p>")
}

func TestRenderNotificationIncludesPayloadDetail(t *testing.T) {
	t.Parallel()

	n := notification.NewNotification(notification.TypeBooking, "Booking requested", "")
	n.WithMetadata("from", "superfan42").
		WithMetadata("bookingId", "b-123").
		WithMetadata("amount", 49.5)

	out := renderNotification(n)
	assert.Contains(t, out, "from superfan42")
	assert.Contains(t, out, "booking b-123")
	assert.Contains(t, out, "$49.50")
}

func TestPayloadDetailTolerant(t *testing.T) {
	t.Parallel()

	assert.Empty(t, payloadDetail(nil))
	assert.Empty(t, payloadDetail(map[string]any{"unrecognized": true}))
	// Oddly typed fields are skipped rather than erroring.
	assert.Empty(t, payloadDetail(map[string]any{"amount": "not-a-number"}))
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-- delivery: streaming",
		renderStatus(notification.ConnectionStatus{Connected: true}))
	assert.Equal(t, "-- delivery: polling",
		renderStatus(notification.ConnectionStatus{Polling: true}))
	assert.Equal(t, "-- delivery: disconnected",
		renderStatus(notification.ConnectionStatus{}))
	assert.Equal(t, "-- delivery: polling (notifications unavailable; showing cached data)",
		renderStatus(notification.ConnectionStatus{Polling: true, Err: "notifications unavailable; showing cached data"}))
}
