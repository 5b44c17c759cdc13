package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/logging"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "protected_paths:\n  - infra/\n  - config/secrets\n")

	s := NewStore(defaultRules, nil)
	assert.True(t, s.Evaluate(diagnosis.Patch{".github/workflows/ci.yml": ""}).Blocked)

	require.NoError(t, s.Load(ctx, path))
	assert.Equal(t, []string{"infra/", "config/secrets"}, s.Gate().Protected)
	assert.False(t, s.Evaluate(diagnosis.Patch{".github/workflows/ci.yml": ""}).Blocked)
	assert.True(t, s.Evaluate(diagnosis.Patch{"infra/main.tf": ""}).Blocked)
	assert.Equal(t, int64(1), s.Reloads())
}

func TestStore_LoadErrorKeepsGate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewStore(defaultRules, nil)

	bad := filepath.Join(dir, "bad.yaml")
	writePolicy(t, bad, "protected_paths: [unterminated\n")
	assert.Error(t, s.Load(ctx, bad))

	missingKey := filepath.Join(dir, "empty.yaml")
	writePolicy(t, missingKey, "other: true\n")
	assert.Error(t, s.Load(ctx, missingKey))

	assert.Error(t, s.Load(ctx, filepath.Join(dir, "nope.yaml")))
	assert.Equal(t, defaultRules, s.Gate().Protected)
}

func TestStore_LoadEmptyListClearsRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "protected_paths: []\n")

	s := NewStore(defaultRules, nil)
	require.NoError(t, s.Load(context.Background(), path))
	assert.Empty(t, s.Gate().Protected)
}

func TestStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "protected_paths: [config/secrets]\n")

	logger := logging.NewTestLogger()
	s := NewStore(nil, logger.Logger)
	require.NoError(t, s.Load(context.Background(), path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, path) }()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writePolicy(t, path, "protected_paths: [src/]\n")
	require.Eventually(t, func() bool {
		return s.Evaluate(diagnosis.Patch{"src/widgets/button.ts": ""}).Blocked
	}, 5*time.Second, 20*time.Millisecond)

	writePolicy(t, path, "protected_paths: [[[")
	require.Eventually(t, func() bool {
		return logger.Count("policy reload failed") > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"src/"}, s.Gate().Protected)
	logger.AssertLogged(t, zapcore.WarnLevel, "keeping previous rules")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
