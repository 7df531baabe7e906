package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bcilog.log")
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.Level = "debug"

	l, err := New(cfg)
	require.NoError(t, err)
	l.Debug("hello from test")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), "DEBUG")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestGetPrefersContextLogger(t *testing.T) {
	assert.NotNil(t, Get(context.Background()))

	l := zaptest.NewLogger(t)
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, Get(ctx))
}

func TestInitReplacesGlobal(t *testing.T) {
	require.NoError(t, Init(Config{Level: "warn"}))
	t.Cleanup(func() {
		mu.Lock()
		global = nil
		mu.Unlock()
	})

	assert.False(t, L().Core().Enabled(-1))
	assert.True(t, L().Core().Enabled(1))
}
