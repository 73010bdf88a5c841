package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"

	"github.com/ovationhq/ovation-notify/internal/notification"
)

// renderNotification formats one notification for terminal output. Bodies
// come from the web product and may carry HTML; they are flattened first.
func renderNotification(n *notification.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", n.Type, n.Title)

	if body := strings.TrimSpace(html2text.HTML2Text(n.Message)); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	if detail := payloadDetail(n.Metadata); detail != "" {
		b.WriteString(" (")
		b.WriteString(detail)
		b.WriteString(")")
	}
	return b.String()
}

// payloadDetail pulls recognizable display fields out of the opaque metadata
// payload. The payload's shape is server-defined and loose, so extraction is
// tolerant: anything missing or oddly typed is simply skipped.
func payloadDetail(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return ""
	}

	var parts []string
	if v, err := obj.GetString("from"); err == nil && v != "" {
		parts = append(parts, "from "+v)
	}
	if v, err := obj.GetString("bookingId"); err == nil && v != "" {
		parts = append(parts, "booking "+v)
	}
	if v, err := obj.GetString("eventId"); err == nil && v != "" {
		parts = append(parts, "event "+v)
	}
	if v, err := obj.GetFloat64("amount"); err == nil {
		parts = append(parts, fmt.Sprintf("$%.2f", v))
	}
	return strings.Join(parts, ", ")
}

// renderStatus describes a connection status transition.
func renderStatus(st notification.ConnectionStatus) string {
	mode := "disconnected"
	switch {
	case st.Connected:
		mode = "streaming"
	case st.Polling:
		mode = "polling"
	}
	if st.Err != "" {
		return fmt.Sprintf("-- delivery: %s (%s)", mode, st.Err)
	}
	return "-- delivery: " + mode
}
