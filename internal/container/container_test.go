package container

import (
	"context"
	"strings"
	"testing"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientSafeError mirrors the teacher's pkg/docker client_test.go:
// a nil api client factory must surface a clean error, never a panic.
func TestClientSafeError(t *testing.T) {
	c := &Client{apiClient: func() client.APIClient { return nil }}

	_, err := c.Create(context.Background(), ContainerConfig{Name: "test", Image: "busybox"}, CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker client is not available")
}

func TestConnectFailureIsCached(t *testing.T) {
	calls := 0
	c := &Client{apiClient: func() client.APIClient {
		calls++
		return nil
	}}

	_, err1 := c.client()
	_, err2 := c.client()

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, 1, calls, "second call within the 30s window should reuse the cached connect error")
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
		changed  bool
	}{
		{"my-server", "my-server", false},
		{"my server!!", "my-server", true},
		{"_leading-punct", "leading-punct", true},
		{"123numeric-start", "123numeric-start", false},
		{"", "mcp-container", true},
	}
	for _, tc := range cases {
		got, changed := normalizeName(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.Equal(t, tc.changed, changed, "input %q", tc.in)
	}
}

func TestNormalizeNameTruncatesTo63(t *testing.T) {
	long := strings.Repeat("a", 100)
	got, changed := normalizeName(long)
	assert.LessOrEqual(t, len(got), maxNameLength)
	assert.True(t, changed)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, mapStatus("running"))
	assert.Equal(t, StatusStopped, mapStatus("exited"))
	assert.Equal(t, StatusStopped, mapStatus("created"))
	assert.Equal(t, StatusStopped, mapStatus("paused"))
	assert.Equal(t, StatusError, mapStatus("dead"))
}
