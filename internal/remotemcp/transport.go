package remotemcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is the subset of *mcp.ClientSession the registry depends on,
// seamed out so tests don't need a real remote MCP server.
type Session interface {
	ListTools(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// DialConfig names what Dial needs to open a connection: the endpoint
// comes from the RemoteServer record, headers carry the resolved
// Authorization bearer token. The record stores no transport kind;
// Connect and TestConnection always pass "streamable".
type DialConfig struct {
	Endpoint  string
	Transport string
	Headers   map[string]string
}

// Dialer opens an MCP client session against a remote server.
type Dialer interface {
	Dial(ctx context.Context, cfg DialConfig) (Session, error)
}

// sdkDialer is the real Dialer, grounded on the teacher's
// pkg/mcp/remote.go: header-injecting HTTP client, SSE or streamable-HTTP
// transport selection, mcp.NewClient + Connect performs the MCP
// initialize handshake.
type sdkDialer struct{}

// NewDialer returns the production Dialer backed by
// github.com/modelcontextprotocol/go-sdk/mcp.
func NewDialer() Dialer { return sdkDialer{} }

func (sdkDialer) Dial(ctx context.Context, cfg DialConfig) (Session, error) {
	httpClient := &http.Client{
		Transport: &headerRoundTripper{base: http.DefaultTransport, headers: cfg.Headers},
	}

	var transport mcp.Transport
	switch strings.ToLower(cfg.Transport) {
	case "sse":
		transport = &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}
	default:
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "mcpfleetd", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sdkSession{session}, nil
}

type sdkSession struct {
	session *mcp.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]string, error) {
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *sdkSession) Ping(ctx context.Context) error {
	return s.session.Ping(ctx, nil)
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// headerRoundTripper ports pkg/mcp/remote.go's header injector verbatim:
// it clones the request and sets every configured header, skipping a
// caller-set Accept header so the streamable transport's own negotiation
// isn't clobbered.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	newReq := req.Clone(req.Context())
	for key, value := range h.headers {
		if key == "Accept" && newReq.Header.Get("Accept") != "" {
			continue
		}
		newReq.Header.Set(key, value)
	}
	return h.base.RoundTrip(newReq)
}
