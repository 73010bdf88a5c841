package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/ovationhq/ovation-notify/internal/errors"
	"github.com/ovationhq/ovation-notify/internal/httpclient"
)

// Frames on the stream follow the text/event-stream format: data lines
// accumulate until a blank line terminates the frame. A single frame can
// carry a large snapshot, so the scanner buffer is generous.
const maxFrameSize = 1 << 20

// DialFunc opens the raw stream body. The manager's default implementation
// performs the HTTP request; tests substitute their own to count and script
// connection attempts.
type DialFunc func(ctx context.Context) (io.ReadCloser, error)

// conn is one live stream connection. cancel aborts the read loop's context,
// which also unblocks the body read.
type conn struct {
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (c *conn) close() {
	c.cancel()
	_ = c.body.Close()
}

// dialStream opens the stream endpoint and returns its body once the server
// has accepted the subscription. No read deadline applies: the stream is
// long-lived by design and cancellation comes from ctx.
func dialStream(ctx context.Context, client *httpclient.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("stream").
			Category(errors.CategoryStream).
			Context("operation", "dial").
			Build()
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.DoStream(ctx, req)
	if err != nil {
		return nil, errors.New(err).
			Component("stream").
			Category(errors.CategoryStream).
			Context("operation", "dial").
			Context("url", url).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		_ = resp.Body.Close()
		return nil, errors.New(&httpclient.StatusError{Code: resp.StatusCode}).
			Component("stream").
			Category(errors.CategoryStream).
			Context("operation", "dial").
			Context("status_code", resp.StatusCode).
			Build()
	}
	return resp.Body, nil
}

// readFrames scans the body for event-stream frames and hands each complete
// data payload to handle. It returns when the body errors out or the context
// is canceled; the caller decides whether that is a failure.
func readFrames(body io.Reader, handle func(data []byte)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				handle(data.Bytes())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines carry nothing we need;
			// the message kind travels inside the JSON payload.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
