package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedErr struct{}

func (codedErr) Error() string         { return "boom" }
func (codedErr) ErrorCode() string     { return "NO_FREE_INTERFACE" }
func (codedErr) ErrorCategory() string { return "RESOURCE" }

func newBufferLogger(level LogLevel) (*LogrusLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.Console = buf
	return New(cfg), buf
}

func TestLoggerLevels(t *testing.T) {
	log, buf := newBufferLogger(LogLevelInfo)
	ctx := context.Background()

	log.Debug(ctx, "скрытое сообщение")
	assert.Empty(t, buf.String(), "debug не должен писаться на уровне info")

	log.Info(ctx, "controller ready", Int("controller", 1))
	assert.Contains(t, buf.String(), "controller ready")
	assert.Contains(t, buf.String(), "controller=1")

	log.SetLevel(LogLevelDebug)
	assert.True(t, log.IsEnabled(LogLevelDebug))
	log.Debug(ctx, "теперь видно")
	assert.Contains(t, buf.String(), "теперь видно")
}

func TestLoggerComponentAndFields(t *testing.T) {
	log, buf := newBufferLogger(LogLevelTrace)
	l := log.WithComponent("dispatcher").WithFields(Hex("plci", 0x101))
	l.Warn(context.Background(), "stale message")

	out := buf.String()
	assert.Contains(t, out, "component=dispatcher")
	assert.Contains(t, out, "plci=0x0101")
}

func TestLogErrorAddsCode(t *testing.T) {
	log, buf := newBufferLogger(LogLevelInfo)
	log.LogError(context.Background(), codedErr{}, "dial failed")

	out := buf.String()
	assert.Contains(t, out, "error_code=NO_FREE_INTERFACE")
	assert.Contains(t, out, "error_category=RESOURCE")

	buf.Reset()
	log.LogError(context.Background(), nil, "ничего")
	assert.Empty(t, buf.String())

	log.LogError(context.Background(), errors.New("plain"), "plain error")
	assert.Contains(t, buf.String(), "plain")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, l)

	l, err = ParseLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	assert.False(t, log.IsEnabled(LogLevelError))
	log.Error(context.Background(), "никуда")
}
