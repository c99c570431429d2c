package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

const testConfig = `
api:
  base_url: https://api.example.test
log:
  level: error
realtime:
  identity: op-1
  base_delay: 10ms
  max_attempts: 2
`

var testStart = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// testCLI runs commands against a temp database with fake network ends.
type testCLI struct {
	t          *testing.T
	opts       *RootOptions
	backend    *testutil.FakeBackend
	dialer     *testutil.FakeDialer
	dbPath     string
	configPath string
	stdin      string
}

func newTestCLI(t *testing.T, configYAML string) *testCLI {
	t.Helper()
	t.Setenv(config.EnvDB, "")
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvRealtimeURL, "")
	t.Setenv(config.EnvIdentity, "")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o600))

	backend := testutil.NewFakeBackend()
	dialer := testutil.NewFakeDialer()
	clock := testutil.NewDeterministicClock(testStart, time.Second)

	return &testCLI{
		t: t,
		opts: &RootOptions{
			Transport: backend,
			Dialer:    dialer,
			Keys:      testutil.NewSequentialKeyGenerator("req"),
			Now:       clock.Now,
		},
		backend:    backend,
		dialer:     dialer,
		dbPath:     filepath.Join(dir, "fieldsync.db"),
		configPath: configPath,
	}
}

// run executes one command line and returns stdout and stderr.
func (c *testCLI) run(args ...string) (string, string, error) {
	return c.runContext(context.Background(), args...)
}

func (c *testCLI) runContext(ctx context.Context, args ...string) (string, string, error) {
	c.t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	cmd := newRootCommand(c.opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(c.stdin))
	cmd.SetArgs(append([]string{"--db", c.dbPath, "--config", c.configPath}, args...))

	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test if the command errors.
func (c *testCLI) mustRun(args ...string) string {
	c.t.Helper()
	stdout, stderr, err := c.run(args...)
	require.NoError(c.t, err, "stdout: %s\nstderr: %s", stdout, stderr)
	return stdout
}

// openStore opens the CLI's database directly.
func (c *testCLI) openStore() *store.Store {
	c.t.Helper()
	st, err := store.Open(c.dbPath)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { st.Close() })
	return st
}
