package githubtoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
)

type fakeStore struct {
	row   *store.GitHubToken
	audit []string
}

func (f *fakeStore) GetGitHubToken(_ context.Context) (*store.GitHubToken, error) {
	return f.row, nil
}

func (f *fakeStore) UpsertGitHubToken(_ context.Context, t store.GitHubToken) error {
	f.row = &t
	return nil
}

func (f *fakeStore) DeleteGitHubToken(_ context.Context) error {
	f.row = nil
	return nil
}

func (f *fakeStore) RecordAuditLog(_ context.Context, _, action, _, _ string, _ map[string]any, _ *string) error {
	f.audit = append(f.audit, action)
	return nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestStatusReportsUnconfiguredInitially(t *testing.T) {
	st := &fakeStore{}
	m := New(st)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Configured)
}

func TestSetTokenThenStatusAndAccess(t *testing.T) {
	st := &fakeStore{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(st, WithClock(fixedClock(now)), WithRefGenerator(func() string { return "ref-1" }))

	err := m.SetToken(context.Background(), SetTokenRequest{Token: "ghp_abc123", Actor: "admin"})
	require.NoError(t, err)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Configured)
	assert.Equal(t, SourceManual, status.Source)
	assert.Equal(t, "admin", status.UpdatedBy)
	assert.Equal(t, now, *status.UpdatedAt)
	assert.Contains(t, st.audit, "github_token_set")

	value, ok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ghp_abc123", value)
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	st := &fakeStore{}
	m := New(st)

	err := m.SetToken(context.Background(), SetTokenRequest{Token: "", Actor: "admin"})
	require.Error(t, err)
}

func TestDeleteTokenClearsRowAndSlot(t *testing.T) {
	st := &fakeStore{}
	m := New(st, WithRefGenerator(func() string { return "ref-2" }))

	require.NoError(t, m.SetToken(context.Background(), SetTokenRequest{Token: "ghp_xyz", Actor: "admin"}))
	require.NoError(t, m.DeleteToken(context.Background(), "admin"))

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Configured)

	_, ok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, st.audit, "github_token_deleted")
}

func TestAccessTokenFalseWhenSlotDoesNotMatchStoredRef(t *testing.T) {
	// Simulates a process restart: the store row survives but the
	// in-memory slot (and thus the plaintext) is gone.
	st := &fakeStore{}
	m1 := New(st, WithRefGenerator(func() string { return "ref-3" }))
	require.NoError(t, m1.SetToken(context.Background(), SetTokenRequest{Token: "ghp_restart", Actor: "admin"}))

	m2 := New(st)
	_, ok, err := m2.AccessToken(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
