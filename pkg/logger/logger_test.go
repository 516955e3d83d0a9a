package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantLevel zapcore.Level
	}{
		{
			name:      "Development Config",
			config:    Config{Level: "debug", Environment: "development", ServiceName: "gateway"},
			wantLevel: zapcore.DebugLevel,
		},
		{
			name:      "Production Config With Gateway",
			config:    Config{Level: "info", Environment: "production", ServiceName: "gateway", Gateway: "combat"},
			wantLevel: zapcore.InfoLevel,
		},
		{
			name:      "Invalid Level Defaults to Info",
			config:    Config{Level: "loud", Environment: "development", ServiceName: "gateway"},
			wantLevel: zapcore.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			assert.True(t, l.zap.Core().Enabled(tt.wantLevel))
			assert.False(t, l.zap.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	l := FromZap(zap.New(core))

	l.Info("connection registered", zap.String("conn_id", "abc"))
	require.Equal(t, 1, observed.Len())
	entry := observed.All()[0]
	assert.Equal(t, "connection registered", entry.Message)
	assert.Equal(t, "abc", entry.ContextMap()["conn_id"])

	observed.TakeAll()
	l.Error("write failed", errors.New("broken pipe"))
	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "broken pipe", observed.All()[0].ContextMap()["error"])

	observed.TakeAll()
	l.Debug("ignored")
	assert.Equal(t, 0, observed.Len())
}

func TestWithAndNamed(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	l := FromZap(zap.New(core))

	l.Named("consumer").With(zap.String("topic", "combat_logs")).Warn("idle")

	require.Equal(t, 1, observed.Len())
	entry := observed.All()[0]
	assert.Equal(t, "consumer", entry.LoggerName)
	assert.Equal(t, "combat_logs", entry.ContextMap()["topic"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}
