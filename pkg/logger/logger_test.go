package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseRoutesPrintfHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))
	t.Cleanup(func() { Setup("") })

	Info("started on port %s", "8080")
	Warn("relay queue full for chat %s", "c1")
	Error("SendMessage Error: %v", "boom")
	Debug("joined %d rooms", 2)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "started on port 8080", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "SendMessage Error: boom", entries[2].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[3].Level)
}

func TestProductionSetupDropsDebug(t *testing.T) {
	Setup("production")
	t.Cleanup(func() { Setup("") })

	assert.False(t, get().Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, get().Desugar().Core().Enabled(zapcore.InfoLevel))

	Setup("development")
	assert.True(t, get().Desugar().Core().Enabled(zapcore.DebugLevel))
}
