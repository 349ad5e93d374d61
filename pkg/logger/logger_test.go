package logger

import (
	"testing"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseZapLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"Error":   zapcore.ErrorLevel,
		"INFO":    zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseZapLevel(in), in)
	}
}

func TestToHlogLevel(t *testing.T) {
	assert.Equal(t, hlog.LevelDebug, toHlogLevel(zapcore.DebugLevel))
	assert.Equal(t, hlog.LevelInfo, toHlogLevel(zapcore.InfoLevel))
	assert.Equal(t, hlog.LevelWarn, toHlogLevel(zapcore.WarnLevel))
	assert.Equal(t, hlog.LevelError, toHlogLevel(zapcore.ErrorLevel))
	assert.Equal(t, hlog.LevelInfo, toHlogLevel(zapcore.DPanicLevel))
}

func TestNamedBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Named("test").Info("logger usable before Init")
	})
}
