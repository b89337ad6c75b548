// Package session is the session runtime of spec.md section 4.5: wraps a
// container behind an interactive session with policy enforcement,
// mTLS bundle provisioning, signature policy checks, and sync/async
// command execution.
package session

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sigstore/cosign/v2/pkg/cosign"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/container"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
)

// Policy defaults from spec.md section 4.5.
const (
	DefaultCPUs          = 0.5
	DefaultMemoryMiB     = 512
	DefaultNetworkMode   = "none"
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultMaxRunSeconds = 60
	MinMaxRunSeconds     = 10
	MaxMaxRunSeconds     = 300
	DefaultOutputBytes   = 128_000
	MinOutputBytes       = 32_000
	MaxOutputBytes       = 1_000_000
)

// ExecMode distinguishes synchronous from asynchronous execute_command.
type ExecMode string

const (
	ExecSync  ExecMode = "sync"
	ExecAsync ExecMode = "async"
)

// ContainerSupervisor is the subset of internal/container the runtime
// depends on.
type ContainerSupervisor interface {
	Create(ctx context.Context, cfg container.ContainerConfig, opts container.CreateOptions) (string, error)
	Exec(ctx context.Context, id string, argv []string) (exitCode int, output []byte, err error)
}

// Store is the subset of internal/store the runtime depends on.
type Store interface {
	CreateExecSession(ctx context.Context, e store.ExecSession) error
	GetExecSession(ctx context.Context, id string) (*store.ExecSession, error)
	UpdateExecSessionConfig(ctx context.Context, id, configJSON string) error
	GetSignaturePolicy(ctx context.Context, serverID string) (*store.SignaturePolicyRecord, error)
	CreateJob(ctx context.Context, j store.Job) error
	GetJob(ctx context.Context, id string) (*store.Job, error)
	UpdateJob(ctx context.Context, j store.Job) error
	auditLogger
}

// Runtime is the session runtime of spec.md section 4.5.
type Runtime struct {
	containers ContainerSupervisor
	store      Store
	verifier   SignatureVerifier
	tasks      *taskreg.Registry
	certBase   string
	now        func() time.Time
	newID      func() string
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(r *Runtime) { r.verifier = v }
}

func New(containers ContainerSupervisor, st Store, certBase string, opts ...Option) *Runtime {
	r := &Runtime{
		containers: containers,
		store:      st,
		verifier:   NewCosignVerifier(),
		tasks:      taskreg.New(),
		certBase:   certBase,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Shutdown awaits every outstanding async job before returning.
func (r *Runtime) Shutdown() {
	r.tasks.Shutdown()
}

// CreateSessionRequest is the create_session input of spec.md 4.5.
type CreateSessionRequest struct {
	ServerID        string
	Image           string
	Env             map[string]string
	VaultHandle     string
	PlaceholderMode bool
	GatewayEndpoint string
	MetricsEndpoint string
}

// CreateSession implements spec.md 4.5's create_session: mints a session
// id, generates an mTLS bundle, checks the optional signature policy, and
// creates the backing container (retrying once on error).
func (r *Runtime) CreateSession(ctx context.Context, req CreateSessionRequest) (*store.ExecSession, error) {
	sessionID := r.newID()

	bundle, certRef, err := generateMTLSBundle(r.certBase, sessionID, req.PlaceholderMode)
	if err != nil {
		return nil, err
	}

	policyRec, err := r.store.GetSignaturePolicy(ctx, req.ServerID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading signature policy", err)
	}
	var policy *store.SignaturePolicyPayload
	if policyRec != nil {
		var p store.SignaturePolicyPayload
		if err := decodeJSON(policyRec.PayloadJSON, &p); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "decoding signature policy", err)
		}
		policy = &p
	}
	if err := checkSignaturePolicy(ctx, r.verifier, r.store, policy, req.Image, &cosign.CheckOpts{}); err != nil {
		return nil, err
	}

	cfg := container.ContainerConfig{
		Name:          "mcp-" + sessionID,
		Image:         req.Image,
		Env:           req.Env,
		NetworkMode:   DefaultNetworkMode,
		CPUs:          DefaultCPUs,
		MemoryLimit:   DefaultMemoryMiB * 1024 * 1024,
		RestartPolicy: "on-failure",
		Volumes:       map[string]string{bundle.dir: "/etc/mcp-certs"},
	}

	containerID, err := r.createContainerWithRetry(ctx, cfg, req, sessionID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	exec := store.ExecSession{
		SessionID:        sessionID,
		ServerID:         req.ServerID,
		ConfigJSON:       "",
		State:            store.ExecSessionStateRunning,
		IdleDeadline:     now.Add(DefaultIdleTimeout),
		GatewayEndpoint:  "container://" + containerID,
		MetricsEndpoint:  req.MetricsEndpoint,
		MTLSCertRefJSON:  encodeJSON(certRef),
		FeatureFlagsJSON: encodeJSON(store.FeatureFlags{PlaceholderMode: req.PlaceholderMode}),
		CreatedAt:        now,
	}
	if err := r.store.CreateExecSession(ctx, exec); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting exec session", err)
	}
	return &exec, nil
}

func (r *Runtime) createContainerWithRetry(ctx context.Context, cfg container.ContainerConfig, req CreateSessionRequest, sessionID string) (string, error) {
	id, err := r.containers.Create(ctx, cfg, container.CreateOptions{SessionID: sessionID, VaultHandle: req.VaultHandle})
	if err == nil {
		return id, nil
	}
	obslog.Logf("session: container create failed for session %s, retrying once: %v", sessionID, err)
	return r.containers.Create(ctx, cfg, container.CreateOptions{SessionID: sessionID, VaultHandle: req.VaultHandle})
}

// ExecRequest is the execute_command input of spec.md 4.5.
type ExecRequest struct {
	SessionID       string
	Tool            string
	Args            []string
	Mode            ExecMode
	MaxRunSeconds   int
	OutputByteLimit int
}

// ExecResult is the sync-mode execute_command output.
type ExecResult struct {
	ExitCode  int
	Output    string
	Timeout   bool
	Truncated bool
}

// ExecuteCommand resolves the session's container endpoint and runs the
// command either synchronously (blocking, returning the result) or
// asynchronously (returning immediately with a queued Job id).
func (r *Runtime) ExecuteCommand(ctx context.Context, req ExecRequest) (*ExecResult, string, error) {
	sess, err := r.store.GetExecSession(ctx, req.SessionID)
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInternal, "loading exec session", err)
	}
	if sess == nil {
		return nil, "", errs.New(errs.KindContainer, "exec session not found")
	}
	containerID := containerIDFromEndpoint(sess.GatewayEndpoint)

	argv := append([]string{"mcp-exec", req.Tool}, req.Args...)
	maxRunSeconds := clamp(req.MaxRunSeconds, MinMaxRunSeconds, MaxMaxRunSeconds, DefaultMaxRunSeconds)
	outputLimit := clamp(req.OutputByteLimit, MinOutputBytes, MaxOutputBytes, DefaultOutputBytes)

	if req.Mode == ExecAsync {
		jobID := r.newID()
		now := r.now()
		if err := r.store.CreateJob(ctx, store.Job{
			JobID:     jobID,
			SessionID: req.SessionID,
			Status:    store.JobStatusQueued,
			QueuedAt:  now,
		}); err != nil {
			return nil, "", errs.Wrap(errs.KindInternal, "persisting job", err)
		}

		r.tasks.Spawn(context.Background(), jobID, func(taskCtx context.Context) {
			r.runAsyncJob(taskCtx, jobID, containerID, argv, maxRunSeconds, outputLimit)
		})
		return nil, jobID, nil
	}

	result := r.runSync(ctx, containerID, argv, maxRunSeconds, outputLimit)
	return result, "", nil
}

func clamp(v, min, max, def int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func containerIDFromEndpoint(endpoint string) string {
	const prefix = "container://"
	if len(endpoint) > len(prefix) && endpoint[:len(prefix)] == prefix {
		return endpoint[len(prefix):]
	}
	return endpoint
}

func (r *Runtime) runSync(ctx context.Context, containerID string, argv []string, maxRunSeconds, outputLimit int) *ExecResult {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(maxRunSeconds)*time.Second)
	defer cancel()

	exitCode, output, err := r.containers.Exec(runCtx, containerID, argv)
	if runCtx.Err() == context.DeadlineExceeded {
		return &ExecResult{ExitCode: 124, Timeout: true}
	}
	if err != nil {
		return &ExecResult{ExitCode: -1, Output: err.Error()}
	}

	text, truncated := truncateLossyUTF8(output, outputLimit)
	return &ExecResult{ExitCode: exitCode, Output: text, Truncated: truncated}
}

func (r *Runtime) runAsyncJob(ctx context.Context, jobID, containerID string, argv []string, maxRunSeconds, outputLimit int) {
	now := r.now()
	if err := r.store.UpdateJob(ctx, store.Job{JobID: jobID, Status: store.JobStatusRunning, StartedAt: &now}); err != nil {
		obslog.Logf("session: failed to mark job %s running: %v", jobID, err)
	}

	result := r.runSync(ctx, containerID, argv, maxRunSeconds, outputLimit)

	finished := r.now()
	status := store.JobStatusCompleted
	if result.ExitCode != 0 {
		status = store.JobStatusFailed
	}
	outputRef := encodeJSON(store.OutputRef{Kind: "inline", Output: result.Output})
	exitCode := result.ExitCode
	if err := r.store.UpdateJob(ctx, store.Job{
		JobID:         jobID,
		Status:        status,
		FinishedAt:    &finished,
		ExitCode:      &exitCode,
		TimeoutFlag:   result.Timeout,
		TruncatedFlag: result.Truncated,
		OutputRefJSON: &outputRef,
	}); err != nil {
		obslog.Logf("session: failed to persist job %s result: %v", jobID, err)
	}
}

// GetJobStatus returns a snapshot of a job. If the persisted record still
// shows the job running, it is re-read once more after a short pause to
// pick up a terminal status whose store write is just landing.
func (r *Runtime) GetJobStatus(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading job", err)
	}
	if job == nil {
		return nil, errs.New(errs.KindContainer, "job not found")
	}
	if job.Status == store.JobStatusRunning {
		// short poll re-read to dodge the running->terminal transition race
		time.Sleep(5 * time.Millisecond)
		return r.store.GetJob(ctx, jobID)
	}
	return job, nil
}

// UpdateSessionConfig clamps and persists revised max_run_seconds and
// output_bytes_limit.
func (r *Runtime) UpdateSessionConfig(ctx context.Context, sessionID string, maxRunSeconds, outputBytesLimit int) error {
	cfg := fmt.Sprintf(`{"max_run_seconds":%d,"output_bytes_limit":%d}`,
		clamp(maxRunSeconds, MinMaxRunSeconds, MaxMaxRunSeconds, DefaultMaxRunSeconds),
		clamp(outputBytesLimit, MinOutputBytes, MaxOutputBytes, DefaultOutputBytes))
	if err := r.store.UpdateExecSessionConfig(ctx, sessionID, cfg); err != nil {
		return errs.Wrap(errs.KindInternal, "persisting session config", err)
	}
	return nil
}

// truncateLossyUTF8 decodes output with lossy UTF-8 replacement and
// truncates to limit bytes, reporting whether truncation occurred.
func truncateLossyUTF8(output []byte, limit int) (string, bool) {
	valid := bytes.ToValidUTF8(output, []byte(string(utf8.RuneError)))
	if len(valid) <= limit {
		return string(valid), false
	}
	return string(valid[:limit]), true
}
