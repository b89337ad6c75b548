package remotemcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
)

type fakeStore struct {
	servers     map[string]store.RemoteServer
	credentials map[string]store.Credential
	allowed     bool
	audit       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		servers:     make(map[string]store.RemoteServer),
		credentials: make(map[string]store.Credential),
		allowed:     true,
	}
}

func (f *fakeStore) CreateRemoteServer(_ context.Context, r store.RemoteServer) error {
	f.servers[r.ServerID] = r
	return nil
}

func (f *fakeStore) GetRemoteServer(_ context.Context, id string) (*store.RemoteServer, error) {
	r, ok := f.servers[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeStore) FindRemoteServerByCatalogItemID(_ context.Context, catalogItemID string) (*store.RemoteServer, error) {
	for _, r := range f.servers {
		if r.CatalogItemID == catalogItemID {
			rc := r
			return &rc, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindRemoteServerByEndpoint(_ context.Context, endpoint string) (*store.RemoteServer, error) {
	for _, r := range f.servers {
		if r.Endpoint == endpoint {
			rc := r
			return &rc, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRemoteServers(_ context.Context) ([]store.RemoteServer, error) {
	var out []store.RemoteServer
	for _, r := range f.servers {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) UpdateRemoteServerStatus(_ context.Context, id, status string, credentialKey *string) error {
	r := f.servers[id]
	r.Status = status
	r.CredentialKey = credentialKey
	f.servers[id] = r
	return nil
}

func (f *fakeStore) UpdateRemoteServerConnected(_ context.Context, id string, at any) error {
	r := f.servers[id]
	f.servers[id] = r
	return nil
}

func (f *fakeStore) UpdateRemoteServerError(_ context.Context, id, message string) error {
	r := f.servers[id]
	r.Status = store.RemoteServerError
	r.ErrorMessage = &message
	f.servers[id] = r
	return nil
}

func (f *fakeStore) DeleteRemoteServer(_ context.Context, id string) error {
	delete(f.servers, id)
	return nil
}

func (f *fakeStore) IsEndpointAllowed(_ string) bool { return f.allowed }

func (f *fakeStore) GetCredential(_ context.Context, key string) (*store.Credential, error) {
	c, ok := f.credentials[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) DeleteCredential(_ context.Context, key string) error {
	delete(f.credentials, key)
	return nil
}

func (f *fakeStore) RecordAuditLog(_ context.Context, _, action, _, _ string, _ map[string]any, _ *string) error {
	f.audit = append(f.audit, action)
	return nil
}

type fakeDialer struct {
	dialErr error
	session *fakeSession
}

func (d *fakeDialer) Dial(_ context.Context, _ DialConfig) (Session, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}

type fakeSession struct {
	tools   []string
	pingErr error
	closed  bool
	pingCnt int
}

func (s *fakeSession) ListTools(_ context.Context) ([]string, error) { return s.tools, nil }
func (s *fakeSession) Ping(_ context.Context) error                  { s.pingCnt++; return s.pingErr }
func (s *fakeSession) Close() error                                  { s.closed = true; return nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegisterServerHappyPath(t *testing.T) {
	st := newFakeStore()
	reg := New(st, taskreg.New(), 4, WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))

	rec, err := reg.RegisterServer(context.Background(), RegisterServerRequest{
		CatalogItemID: "github",
		Name:          "GitHub",
		Endpoint:      "https://mcp.github.com/sse",
		Actor:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-github", rec.ServerID)
	assert.Equal(t, store.RemoteServerRegistered, rec.Status)
	assert.Contains(t, st.audit, "server_registered")
}

func TestRegisterServerRejectsDisallowedEndpoint(t *testing.T) {
	st := newFakeStore()
	st.allowed = false
	reg := New(st, taskreg.New(), 4)

	_, err := reg.RegisterServer(context.Background(), RegisterServerRequest{
		CatalogItemID: "github", Name: "GitHub", Endpoint: "https://evil.example",
	})
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindEndpointNotAllowed, k)
	assert.Contains(t, st.audit, "endpoint_rejected")
}

func TestRegisterServerSuffixesOnCollision(t *testing.T) {
	st := newFakeStore()
	st.servers["remote-github-2"] = store.RemoteServer{ServerID: "remote-github-2", CatalogItemID: "other"}
	reg := New(st, taskreg.New(), 4, WithIDSuffixGenerator(func() (string, error) { return "abcd1234", nil }))

	rec, err := reg.RegisterServer(context.Background(), RegisterServerRequest{
		CatalogItemID: "github-2", Name: "GitHub2", Endpoint: "https://mcp2.github.com/sse",
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-github-2-abcd1234", rec.ServerID)
}

func TestEnableServerPromotesWithValidCredential(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	credKey := "cred-1"
	st.servers["remote-github"] = store.RemoteServer{ServerID: "remote-github", Status: store.RemoteServerRegistered, CredentialKey: &credKey}
	st.credentials[credKey] = store.Credential{CredentialKey: credKey, ExpiresAt: now.Add(time.Hour)}
	reg := New(st, taskreg.New(), 4, WithClock(fixedClock(now)))

	rec, err := reg.EnableServer(context.Background(), "remote-github", "alice")
	require.NoError(t, err)
	assert.Equal(t, store.RemoteServerAuthenticated, rec.Status)
}

func TestEnableServerRequiresAuthWithoutCredential(t *testing.T) {
	st := newFakeStore()
	st.servers["remote-github"] = store.RemoteServer{ServerID: "remote-github", Status: store.RemoteServerRegistered}
	reg := New(st, taskreg.New(), 4)

	rec, err := reg.EnableServer(context.Background(), "remote-github", "alice")
	require.NoError(t, err)
	assert.Equal(t, store.RemoteServerAuthRequired, rec.Status)
}

func TestRevokeCredentialsClearsBinding(t *testing.T) {
	st := newFakeStore()
	credKey := "cred-1"
	st.servers["remote-github"] = store.RemoteServer{ServerID: "remote-github", Status: store.RemoteServerAuthenticated, CredentialKey: &credKey}
	st.credentials[credKey] = store.Credential{CredentialKey: credKey}
	reg := New(st, taskreg.New(), 4)

	rec, err := reg.RevokeCredentials(context.Background(), "remote-github", "alice")
	require.NoError(t, err)
	assert.Equal(t, store.RemoteServerAuthRequired, rec.Status)
	assert.Nil(t, rec.CredentialKey)
	_, stillThere := st.credentials[credKey]
	assert.False(t, stillThere)
}

func TestConnectReturnsCapabilitiesAndStartsHeartbeat(t *testing.T) {
	st := newFakeStore()
	st.servers["remote-github"] = store.RemoteServer{ServerID: "remote-github", Endpoint: "https://mcp.github.com"}
	session := &fakeSession{tools: []string{"search", "fetch"}}
	reg := New(st, taskreg.New(), 4, WithDialer(&fakeDialer{session: session}), WithHeartbeatInterval(10*time.Millisecond))

	res, err := reg.Connect(context.Background(), "remote-github", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "fetch"}, res.Capabilities)

	time.Sleep(30 * time.Millisecond)
	reg.Disconnect("remote-github")
	assert.True(t, session.closed)
	assert.GreaterOrEqual(t, session.pingCnt, 1)
}

func TestConnectTooManyConnections(t *testing.T) {
	st := newFakeStore()
	st.servers["remote-1"] = store.RemoteServer{ServerID: "remote-1", Endpoint: "https://a.example"}
	st.servers["remote-2"] = store.RemoteServer{ServerID: "remote-2", Endpoint: "https://b.example"}
	reg := New(st, taskreg.New(), 1,
		WithDialer(&fakeDialer{session: &fakeSession{}}),
		WithAcquireTimeout(5*time.Millisecond),
		WithHeartbeatInterval(time.Hour))

	_, err := reg.Connect(context.Background(), "remote-1", "alice")
	require.NoError(t, err)

	_, err = reg.TestConnection(context.Background(), "remote-2")
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindTooManyConnections, k)

	reg.Disconnect("remote-1")
}

func TestTestConnectionDoesNotLeaveSessionOpen(t *testing.T) {
	st := newFakeStore()
	st.servers["remote-1"] = store.RemoteServer{ServerID: "remote-1", Endpoint: "https://a.example"}
	session := &fakeSession{}
	reg := New(st, taskreg.New(), 4, WithDialer(&fakeDialer{session: session}))

	res, err := reg.TestConnection(context.Background(), "remote-1")
	require.NoError(t, err)
	assert.True(t, res.Reachable)
	assert.True(t, session.closed)
}
