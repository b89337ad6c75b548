// Package vault wraps the external password-vault binary (Bitwarden's
// `bw` CLI in the teacher's original_source) behind a small Client
// interface, grounded on the subprocess-invocation style used throughout
// the pack (e.g. pkg/gateway/clientpool.go's exec.CommandContext calls)
// and on the kill-and-wait discipline spec.md section 9 calls for.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// Item is the decoded shape of a vault item as returned by `bw get item`.
// Only the fields the secret resolver needs are modeled explicitly; the
// rest of the payload is kept as raw JSON for jsonpath extraction.
type Item struct {
	Raw json.RawMessage
}

// Client is the subset of vault-binary behavior the core depends on.
type Client interface {
	// LoginMasterPassword unlocks the vault with email + master password
	// and returns an opaque unlock handle.
	LoginMasterPassword(ctx context.Context, email, masterPassword string) (string, error)
	// LoginAPIKey performs the non-interactive client-credentials login
	// (clientID/clientSecret) and then unlocks with the master password,
	// per the Open Question resolution in DESIGN.md.
	LoginAPIKey(ctx context.Context, clientID, clientSecret, masterPassword string) (string, error)
	// Lock locks the vault for the given unlock handle. Best-effort.
	Lock(ctx context.Context, handle string) error
	// GetItem fetches an item by id using the given unlock handle.
	GetItem(ctx context.Context, handle, itemID string) (*Item, error)
	// Probe verifies an unlock handle still works (sync probe on login).
	Probe(ctx context.Context, handle string) error
}

// Options configures the CLI-backed client.
type Options struct {
	BinaryPath string        // default "bw"
	Timeout    time.Duration // default 30s, per spec.md section 5
}

type cliClient struct {
	binary  string
	timeout time.Duration
}

func New(opts Options) Client {
	binary := opts.BinaryPath
	if binary == "" {
		binary = "bw"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &cliClient{binary: binary, timeout: timeout}
}

func (c *cliClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// run execs the vault binary and guarantees the child is killed and
// awaited on every exit path, per the Design Note in spec.md section 9.
func (c *cliClient) run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Env = append(cmd.Env, env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := runGuarded(ctx, cmd)
	if runErr != nil {
		return nil, errs.Wrap(errs.KindAuth, "vault binary invocation failed", fmt.Errorf("%w: %s", runErr, stderr.String()))
	}
	return stdout.Bytes(), nil
}

// runGuarded starts cmd, waits for completion, and on context
// cancellation/timeout kills the child process and awaits the (now
// terminated) child so no zombie or leaked process remains on any path.
func runGuarded(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

func (c *cliClient) LoginMasterPassword(ctx context.Context, email, masterPassword string) (string, error) {
	out, err := c.run(ctx, []string{"BW_PASSWORD=" + masterPassword}, "login", email, "--passwordenv", "BW_PASSWORD", "--raw")
	if err != nil {
		return "", err
	}
	handle := string(bytes.TrimSpace(out))
	if handle == "" {
		return "", errs.New(errs.KindAuth, "vault returned empty unlock handle")
	}
	if err := c.Probe(ctx, handle); err != nil {
		return "", err
	}
	return handle, nil
}

// LoginAPIKey supplies both BW_CLIENTID and BW_CLIENTSECRET to the
// `bw login --apikey` subprocess (fixing the source pitfall named in
// spec.md section 4.2), then still unlocks with the master password since
// the API key alone never yields a usable vault-unlock handle.
func (c *cliClient) LoginAPIKey(ctx context.Context, clientID, clientSecret, masterPassword string) (string, error) {
	env := []string{
		"BW_CLIENTID=" + clientID,
		"BW_CLIENTSECRET=" + clientSecret,
	}
	if _, err := c.run(ctx, env, "login", "--apikey"); err != nil {
		return "", err
	}
	return c.unlockWithMasterPassword(ctx, masterPassword)
}

func (c *cliClient) unlockWithMasterPassword(ctx context.Context, masterPassword string) (string, error) {
	out, err := c.run(ctx, []string{"BW_PASSWORD=" + masterPassword}, "unlock", "--passwordenv", "BW_PASSWORD", "--raw")
	if err != nil {
		return "", err
	}
	handle := string(bytes.TrimSpace(out))
	if handle == "" {
		return "", errs.New(errs.KindAuth, "vault returned empty unlock handle")
	}
	if err := c.Probe(ctx, handle); err != nil {
		return "", err
	}
	return handle, nil
}

func (c *cliClient) Lock(ctx context.Context, handle string) error {
	_, err := c.run(ctx, []string{"BW_SESSION=" + handle}, "lock")
	return err
}

func (c *cliClient) Probe(ctx context.Context, handle string) error {
	_, err := c.run(ctx, []string{"BW_SESSION=" + handle}, "status")
	if err != nil {
		return errs.Wrap(errs.KindAuth, "vault unlock handle failed verification", err)
	}
	return nil
}

func (c *cliClient) GetItem(ctx context.Context, handle, itemID string) (*Item, error) {
	out, err := c.run(ctx, []string{"BW_SESSION=" + handle}, "get", "item", itemID)
	if err != nil {
		return nil, err
	}
	if !json.Valid(out) {
		return nil, errs.New(errs.KindAuth, "vault returned invalid JSON for item")
	}
	return &Item{Raw: out}, nil
}
