package logging

import (
	"path/filepath"
	"testing"
	"time"

	"actcore/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	SetBase(zap.New(core), cats)
	t.Cleanup(func() { SetBase(nil, nil) })
	return logs
}

func TestGet_AttachesCategoryField(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	Get(CategoryHandlers).Info("handled %s", "defer")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "handled defer", entries[0].Message)
	assert.Equal(t, "handlers", entries[0].ContextMap()["category"])
}

func TestGet_DisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, map[string]bool{"secrets": false})

	Secrets("should not appear")
	SecretsDebug("nor this")
	Store("visible")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
	assert.False(t, IsCategoryEnabled(CategorySecrets))
	assert.True(t, IsCategoryEnabled(CategoryStore))
}

func TestGet_CachesLoggers(t *testing.T) {
	observe(t, zapcore.InfoLevel, nil)
	assert.Same(t, Get(CategoryMemory), Get(CategoryMemory))
}

func TestLevelFiltering(t *testing.T) {
	logs := observe(t, zapcore.WarnLevel, nil)

	l := Get(CategoryAudit)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("w").Len())
}

func TestWith_AddsFields(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel, nil)

	Get(CategoryDispatch).With("thought_id", "th-1").Info("routed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "th-1", fields["thought_id"])
	assert.Equal(t, "dispatch", fields["category"])
}

func TestTimer_StopWithThreshold(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	timer := StartTimer(CategoryStore, "slow_op")
	timer.start = time.Now().Add(-2 * time.Second)
	elapsed := timer.StopWithThreshold(time.Second)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestInitialize(t *testing.T) {
	t.Cleanup(func() { SetBase(nil, nil) })

	path := filepath.Join(t.TempDir(), "actcore.log")
	err := Initialize(config.LoggingConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)
	Boot("booted")
	Sync()

	err = Initialize(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestNoopBeforeInitialize(t *testing.T) {
	SetBase(nil, nil)
	assert.NotPanics(t, func() {
		Handlers("nothing happens")
		StartTimer(CategoryHandlers, "op").Stop()
	})
}
