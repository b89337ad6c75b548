package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/vault"
)

type fakeVault struct {
	items map[string]*vault.Item
	calls int
}

func (f *fakeVault) GetItem(_ context.Context, _, itemID string) (*vault.Item, error) {
	f.calls++
	item, ok := f.items[itemID]
	if !ok {
		return nil, assertNotFound(itemID)
	}
	return item, nil
}

func assertNotFound(itemID string) error {
	return &notFoundError{itemID: itemID}
}

type notFoundError struct{ itemID string }

func (e *notFoundError) Error() string { return "item not found: " + e.itemID }

func TestIsValidReference(t *testing.T) {
	assert.True(t, IsValidReference("{{ bw:abc123:password }}"))
	assert.False(t, IsValidReference("plain-string"))
	assert.False(t, IsValidReference("{{ vault:abc123:password }}"))
}

func TestParseReference(t *testing.T) {
	itemID, field, err := ParseReference("{{ bw:abc-123:password }}")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", itemID)
	assert.Equal(t, "password", field)

	_, _, err = ParseReference("not-a-reference")
	assert.Error(t, err)
}

func TestResolveReferenceCachesAcrossCalls(t *testing.T) {
	fv := &fakeVault{items: map[string]*vault.Item{
		"abc123": {Raw: []byte(`{"login":{"password":"hunter2"}}`)},
	}}
	r := New(fv, time.Minute)

	v1, err := r.ResolveReference(context.Background(), "{{ bw:abc123:password }}", "sess-1", "handle")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v1)

	v2, err := r.ResolveReference(context.Background(), "{{ bw:abc123:password }}", "sess-1", "handle")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v2)
	assert.Equal(t, 1, fv.calls, "second resolve should be served from cache")
}

func TestResolveReferenceCustomField(t *testing.T) {
	fv := &fakeVault{items: map[string]*vault.Item{
		"abc123": {Raw: []byte(`{"fields":[{"name":"api_key","value":"sk-test"}]}`)},
	}}
	r := New(fv, time.Minute)

	v, err := r.ResolveReference(context.Background(), "{{ bw:abc123:api_key }}", "sess-1", "handle")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
}

func TestOnSessionEndPurgesCache(t *testing.T) {
	fv := &fakeVault{items: map[string]*vault.Item{
		"abc123": {Raw: []byte(`{"login":{"password":"hunter2"}}`)},
	}}
	r := New(fv, time.Minute)

	_, err := r.ResolveReference(context.Background(), "{{ bw:abc123:password }}", "sess-1", "handle")
	require.NoError(t, err)

	r.OnSessionEnd("sess-1")

	_, err = r.ResolveReference(context.Background(), "{{ bw:abc123:password }}", "sess-1", "handle")
	require.NoError(t, err)
	assert.Equal(t, 2, fv.calls, "cache should have been purged after session end")
}

func TestResolveAllWalksNestedStructures(t *testing.T) {
	fv := &fakeVault{items: map[string]*vault.Item{
		"abc123": {Raw: []byte(`{"login":{"password":"hunter2"}}`)},
	}}
	r := New(fv, time.Minute)

	config := map[string]any{
		"plain": "value",
		"secret": "{{ bw:abc123:password }}",
		"nested": map[string]any{
			"inner_secret": "{{ bw:abc123:password }}",
		},
		"list": []any{"{{ bw:abc123:password }}", "plain-item"},
	}

	resolved, err := r.ResolveAll(context.Background(), config, "sess-1", "handle")
	require.NoError(t, err)

	assert.Equal(t, "value", resolved["plain"])
	assert.Equal(t, "hunter2", resolved["secret"])
	assert.Equal(t, "hunter2", resolved["nested"].(map[string]any)["inner_secret"])
	assert.Equal(t, []any{"hunter2", "plain-item"}, resolved["list"])
}
