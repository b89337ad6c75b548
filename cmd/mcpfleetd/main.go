// Command mcpfleetd is the composition root of spec.md section 9's
// Design Note: explicit construction of every core component, no
// package-level singletons. It wires internal/store,
// internal/vault, internal/secrets, internal/auth, internal/container,
// internal/session, internal/oauthengine, internal/remotemcp,
// internal/gatewayhealth, internal/catalogingest, internal/githubtoken
// and internal/inspector together, runs the periodic idle-GC sweep, and
// shuts everything down on SIGINT/SIGTERM.
//
// The HTTP framing layer, the JSON wire models, and the config file
// loader are external collaborators per spec.md section 1's scope note;
// this binary stops at internal/transport's Go-level contract and does
// not itself serve HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/allowlist"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/auth"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/catalogingest"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/container"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/gatewayhealth"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/githubtoken"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/inspector"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/oauthengine"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/remotemcp"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/secrets"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/session"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/vault"
)

// config holds every tunable read from the environment. Reading
// os.Getenv happens only here, never inside a component package, per
// SPEC_FULL.md's Configuration section.
type config struct {
	vaultBinaryPath     string
	vaultTimeout        time.Duration
	containerSocket     string
	sessionTimeout      time.Duration
	certBase            string
	remoteMCPDomains    string
	connectionCap       int64
	gcInterval          time.Duration
	credentialRetention time.Duration
	jobRetention        time.Duration
	devMode             bool
}

func loadConfig() config {
	return config{
		vaultBinaryPath:     getenv("MCPFLEETD_VAULT_BINARY", "bw"),
		vaultTimeout:        getenvDuration("MCPFLEETD_VAULT_TIMEOUT", 30*time.Second),
		containerSocket:     os.Getenv("MCPFLEETD_CONTAINER_SOCKET"),
		sessionTimeout:      getenvDuration("MCPFLEETD_SESSION_TIMEOUT", 30*time.Minute),
		certBase:            getenv("MCPFLEETD_CERT_BASE", "data/certs"),
		remoteMCPDomains:    os.Getenv("REMOTE_MCP_ALLOWED_DOMAINS"),
		connectionCap:       int64(getenvInt("MCPFLEETD_REMOTE_MCP_CONNECTION_CAP", 16)),
		gcInterval:          getenvDuration("MCPFLEETD_GC_INTERVAL", 10*time.Minute),
		credentialRetention: time.Duration(getenvInt("MCPFLEETD_CREDENTIAL_RETENTION_DAYS", 30)) * 24 * time.Hour,
		jobRetention:        time.Duration(getenvInt("MCPFLEETD_JOB_RETENTION_HOURS", 24)) * time.Hour,
		devMode:             os.Getenv("ALLOW_INSECURE_ENDPOINT") == "true",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// components is every wired collaborator an (external) transport layer
// would reach for, grouped the way internal/transport's interfaces are.
type components struct {
	store       *store.Store
	authManager *auth.Manager
	secrets     *secrets.Resolver
	containers  *container.Client
	sessions    *session.Runtime
	oauth       *oauthengine.Engine
	remoteMCP   *remotemcp.Registry
	gateways    *gatewayhealth.Supervisor
	catalog     *catalogingest.Ingester
	githubToken *githubtoken.Manager
	inspector   *inspector.Inspector
	sharedTasks *taskreg.Registry
}

func build(cfg config) (*components, error) {
	if cfg.devMode {
		obslog.Logf("mcpfleetd: ALLOW_INSECURE_ENDPOINT is set, outbound allowlist checks are relaxed for local development")
	}

	domainAllowlist := cfg.remoteMCPDomains
	if cfg.devMode {
		domainAllowlist = "*"
	}

	st, err := store.New(
		store.WithDatabaseFile(store.DefaultDatabaseFilename()),
		store.WithEndpointAllowlist(allowlist.Parse(domainAllowlist)),
		store.WithCredentialRetention(cfg.credentialRetention),
		store.WithJobRetention(cfg.jobRetention),
	)
	if err != nil {
		return nil, err
	}

	vaultClient := vault.New(vault.Options{
		BinaryPath: cfg.vaultBinaryPath,
		Timeout:    cfg.vaultTimeout,
	})

	authManager := auth.New(st, vaultClient, cfg.sessionTimeout)

	secretResolver := secrets.New(vaultClient, cfg.sessionTimeout)
	authManager.RegisterSessionEndObserver(secretResolver)

	containers := container.New(
		container.WithSocketPath(cfg.containerSocket),
		container.WithSecretResolver(secretResolver),
	)

	sessions := session.New(containers, st, cfg.certBase)

	oauthScopes := []string{"repo", "read:org", "read:user"}
	oauthEngine := oauthengine.New(st, oauthScopes)

	// remotemcp, gatewayhealth and catalogingest share one task registry
	// so the composition root's shutdown stops every periodic prober,
	// cache refresh and heartbeat together, per SPEC_FULL.md sections
	// 4.7-4.9. internal/session keeps its own private registry scoped to
	// exec-job lifecycle (see DESIGN.md).
	sharedTasks := taskreg.New()

	remoteMCP := remotemcp.New(st, sharedTasks, cfg.connectionCap, remotemcp.WithTokenProvider(oauthEngine))

	gateways := gatewayhealth.New(st, sharedTasks)

	catalog := catalogingest.New(sharedTasks)

	ghToken := githubtoken.New(st)

	insp := inspector.New(containers)

	return &components{
		store:       st,
		authManager: authManager,
		secrets:     secretResolver,
		containers:  containers,
		sessions:    sessions,
		oauth:       oauthEngine,
		remoteMCP:   remoteMCP,
		gateways:    gateways,
		catalog:     catalog,
		githubToken: ghToken,
		inspector:   insp,
		sharedTasks: sharedTasks,
	}, nil
}

// runGC periodically sweeps expired rows per spec.md's Idle GC section,
// until ctx is canceled.
func runGC(ctx context.Context, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := st.GCExpired(ctx, time.Now())
			if err != nil {
				obslog.L().Warnw("periodic gc failed", "error", err)
				continue
			}
			obslog.L().Infow("periodic gc swept expired rows",
				"credentials", counts.Credentials,
				"exec_sessions", counts.ExecSessions,
				"jobs", counts.Jobs,
				"auth_sessions", counts.AuthSessions,
				"oauth_states", counts.OAuthStates,
			)
		}
	}
}

func (c *components) shutdown() {
	c.sessions.Shutdown()
	c.sharedTasks.Shutdown()
	if err := c.store.Close(); err != nil {
		obslog.L().Warnw("closing store", "error", err)
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err == nil {
		obslog.SetLogger(logger.Sugar())
	}

	cfg := loadConfig()
	obslog.Logf("mcpfleetd: starting up")

	comps, err := build(cfg)
	if err != nil {
		obslog.L().Fatalw("failed to build components", "error", err)
	}
	obslog.Logf("mcpfleetd: all components constructed, awaiting an external transport layer to serve them")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runGC(ctx, comps.store, cfg.gcInterval)

	<-ctx.Done()
	obslog.Logf("mcpfleetd: shutdown signal received, draining background work")
	comps.shutdown()
	obslog.Logf("mcpfleetd: shutdown complete")
}
