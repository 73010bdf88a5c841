package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONDecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"unreadCount": 7}`))
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	err := c.GetJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.UnreadCount)
}

func TestGetJSONReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestBearerTokenInjection(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()
	c.SetBearerToken("tok-123")

	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &struct{}{}))
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestDefaultTimeoutAppliedWithoutDeadline(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(&Config{DefaultTimeout: 50 * time.Millisecond, ResponseHeaderTimeout: time.Second})
	defer c.Close()

	start := time.Now()
	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "request should time out via default timeout")
}

func TestHooksObserveRequests(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	var before, after int
	c.SetBeforeRequestHook(func(*http.Request) { before++ })
	c.SetAfterResponseHook(func(*http.Request, *http.Response, error) { after++ })

	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &struct{}{}))
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
}
