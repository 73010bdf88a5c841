package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	assert.Equal(t, "ovation-notify", s.Main.Name)
	assert.Equal(t, 30*time.Second, s.Client.PollInterval)
	assert.Equal(t, 60*time.Second, s.Client.SessionCheckInterval)
	assert.Equal(t, 5*time.Minute, s.Client.SessionExpiryThreshold)
	assert.Equal(t, 10*time.Second, s.Client.RequestTimeout)
	require.NoError(t, Validate(s))
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	s.Server.BaseURL = "not a url"
	assert.Error(t, Validate(s))

	s.Server.BaseURL = ""
	assert.Error(t, Validate(s))
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	s.Client.PollInterval = 0
	assert.Error(t, Validate(s))
}

func TestValidateForwardRequiresURLs(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	s.Forward.Enabled = true
	s.Forward.URLs = nil
	assert.Error(t, Validate(s))

	s.Forward.URLs = []string{"generic://example.invalid/hook"}
	assert.NoError(t, Validate(s))
}

func TestEndpointURLJoining(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	s.Server.BaseURL = "https://api.ovation.example/"
	assert.Equal(t, "https://api.ovation.example/api/v1/notifications/stream", s.StreamURL())
	assert.Equal(t, "https://api.ovation.example/api/v1/notifications", s.PollURL())
	assert.Equal(t, "https://api.ovation.example/api/v1/session/refresh", s.RefreshURL())
}

func TestSaveDefaultRefusesOverwrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, SaveDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "baseurl")

	assert.Error(t, SaveDefault(path), "existing config must not be overwritten")
}
