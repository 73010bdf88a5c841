package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeProvider is a controllable session provider for monitor tests.
type fakeProvider struct {
	mu         sync.Mutex
	expiry     time.Time
	hasSession bool
	refreshErr error
	refreshes  int
}

func (f *fakeProvider) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasSession
}

func (f *fakeProvider) Expiry() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiry, f.hasSession
}

func (f *fakeProvider) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.expiry = time.Now().Add(time.Hour)
	return nil
}

func (f *fakeProvider) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestMonitorRefreshesNearExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{hasSession: true, expiry: time.Now().Add(time.Minute)}
	m := NewMonitor(provider, MonitorConfig{
		CheckInterval:   10 * time.Millisecond,
		ExpiryThreshold: 5 * time.Minute,
	})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return provider.refreshCount() > 0
	}, time.Second, 5*time.Millisecond, "monitor should refresh a near-expiry session")

	// After a successful refresh the session is far from expiry, so no
	// further refreshes pile up.
	count := provider.refreshCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, provider.refreshCount())
}

func TestMonitorSignalsWhenSessionGone(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{hasSession: false}
	var signedOut atomic.Int32
	m := NewMonitor(provider, MonitorConfig{
		CheckInterval:   10 * time.Millisecond,
		ExpiryThreshold: 5 * time.Minute,
		OnSignedOut:     func() { signedOut.Add(1) },
	})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return signedOut.Load() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorSignalsWhenSessionExpired(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{hasSession: true, expiry: time.Now().Add(-time.Minute)}
	var signedOut atomic.Int32
	m := NewMonitor(provider, MonitorConfig{
		CheckInterval:   10 * time.Millisecond,
		ExpiryThreshold: 5 * time.Minute,
		OnSignedOut:     func() { signedOut.Add(1) },
	})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return signedOut.Load() > 0
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, provider.refreshCount(), "expired session is torn down, not refreshed")
}

func TestMonitorReportsRefreshFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{
		hasSession: true,
		expiry:     time.Now().Add(time.Minute),
		refreshErr: fmt.Errorf("server said no"),
	}
	var failures atomic.Int32
	m := NewMonitor(provider, MonitorConfig{
		CheckInterval:   10 * time.Millisecond,
		ExpiryThreshold: 5 * time.Minute,
		OnRefreshFailed: func(error) { failures.Add(1) },
	})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return failures.Load() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorHealthySessionIsLeftAlone(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{hasSession: true, expiry: time.Now().Add(time.Hour)}
	m := NewMonitor(provider, MonitorConfig{
		CheckInterval:   10 * time.Millisecond,
		ExpiryThreshold: 5 * time.Minute,
	})

	m.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	m.Stop()

	assert.Zero(t, provider.refreshCount())
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{hasSession: true, expiry: time.Now().Add(time.Hour)}
	m := NewMonitor(provider, MonitorConfig{CheckInterval: 10 * time.Millisecond})

	// Stop before Start must not panic.
	m.Stop()

	m.Start(context.Background())
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}
