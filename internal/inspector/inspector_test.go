package inspector

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainers struct {
	env        map[string]string
	envErr     error
	execOutput []byte
	execExit   int
	execErr    error
	execArgv   []string
}

func (f *fakeContainers) InspectEnv(ctx context.Context, id string) (map[string]string, error) {
	return f.env, f.envErr
}

func (f *fakeContainers) Exec(ctx context.Context, id string, argv []string) (int, []byte, error) {
	f.execArgv = argv
	return f.execExit, f.execOutput, f.execErr
}

type fakeDoer struct {
	response string
	status   int
	err      error
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if d.err != nil {
		return nil, d.err
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(d.response))}, nil
}

func TestInspectUsesMCPEndpointEnvVar(t *testing.T) {
	containers := &fakeContainers{env: map[string]string{"MCP_ENDPOINT": "http://10.0.0.5:9000"}}
	doer := &fakeDoer{response: `{"result":{"tools":[{"name":"echo"}]}}`}
	insp := New(containers, WithHTTPDoer(doer))

	result, err := insp.Inspect(context.Background(), "c1", MethodTools)
	require.NoError(t, err)
	assert.Contains(t, string(result), "echo")
}

func TestInspectFallsBackToExecWhenNoEndpointReachable(t *testing.T) {
	containers := &fakeContainers{env: map[string]string{}, execOutput: []byte(`{"resources":[]}`)}
	doer := &fakeDoer{err: assertErr{}}
	insp := New(containers, WithHTTPDoer(doer))

	result, err := insp.Inspect(context.Background(), "c1", MethodResources)
	require.NoError(t, err)
	assert.Equal(t, `{"resources":[]}`, string(result))
	assert.Equal(t, []string{"mcp", "resources/list"}, containers.execArgv)
}

func TestInspectCapabilitiesAlwaysUsesExec(t *testing.T) {
	containers := &fakeContainers{execOutput: []byte(`{"capabilities":{}}`)}
	insp := New(containers)

	_, err := insp.Inspect(context.Background(), "c1", MethodCapabilities)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp", "capabilities"}, containers.execArgv)
}

func TestInspectExecNonZeroExitIsError(t *testing.T) {
	containers := &fakeContainers{env: map[string]string{}, execExit: 1, execOutput: []byte("boom")}
	doer := &fakeDoer{err: assertErr{}}
	insp := New(containers, WithHTTPDoer(doer))

	_, err := insp.Inspect(context.Background(), "c1", MethodPrompts)
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }
