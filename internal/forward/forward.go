// Package forward optionally relays newly arrived notifications to external
// channels (desktop, chat, email gateways) through shoutrrr URLs. It feeds
// off the store's subscription stream, never from inside the store's
// setters, so the store stays a pure sink.
package forward

import (
	"context"
	"io"
	"log"
	"log/slog"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/k3a/html2text"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/logging"
	"github.com/ovationhq/ovation-notify/internal/notification"
)

// DefaultSendTimeout bounds each delivery attempt.
const DefaultSendTimeout = 10 * time.Second

// sender abstracts the shoutrrr router so tests can capture deliveries.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Forwarder relays EventAdded notifications to the configured URLs. Delivery
// failures are logged and never affect the delivery core.
type Forwarder struct {
	urls   []string
	sender sender
	logger *slog.Logger
}

// New validates the URLs and builds a forwarder. At least one URL is
// required.
func New(urls []string) (*Forwarder, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one forward URL is required").
			Component("forward").
			Category(errors.CategoryValidation).
			Build()
	}
	sr, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("forward").
			Category(errors.CategoryConfiguration).
			Context("operation", "create-sender").
			Build()
	}
	sr.Timeout = DefaultSendTimeout
	sr.SetLogger(log.New(io.Discard, "", 0))
	return newWithSender(urls, sr), nil
}

func newWithSender(urls []string, s sender) *Forwarder {
	logger := logging.ForService("forward")
	if logger == nil {
		logger = slog.Default().With("service", "forward")
	}
	return &Forwarder{
		urls:   slices.Clone(urls),
		sender: s,
		logger: logger,
	}
}

// Run consumes store events until ctx is canceled, forwarding each newly
// added notification. Updates and snapshots are not forwarded: only genuine
// arrivals should ping external channels.
func (f *Forwarder) Run(ctx context.Context, store *notification.Store) {
	id, events := store.Subscribe()
	defer store.Unsubscribe(id)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != notification.EventAdded || ev.Notification == nil {
				continue
			}
			f.send(ev.Notification)
		case <-ctx.Done():
			return
		}
	}
}

// send delivers one notification to every configured URL. Marketplace
// notification bodies may carry HTML; they are flattened for plain-text
// channels.
func (f *Forwarder) send(n *notification.Notification) {
	body := html2text.HTML2Text(n.Message)
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	errs := f.sender.Send(body, &params)
	for _, err := range errs {
		if err != nil {
			f.logger.Warn("forward delivery failed", "id", n.ID, "error", err)
			return
		}
	}
	f.logger.Debug("forwarded notification", "id", n.ID, "type", n.Type)
}

// compile-time check that the shoutrrr router satisfies sender.
var _ sender = (*router.ServiceRouter)(nil)
