package logging

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/GradeSim/pkg/errors"
)

func newObservedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: LevelDebug, Format: format, OutputPaths: []string{"stderr"}})
		require.NoError(t, err)
		assert.NotNil(t, l)
	}

	l, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_EmptyOutputPaths(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}


func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapLogger_LevelsAndFields(t *testing.T) {
	l, logs := newObservedLogger(zapcore.InfoLevel)

	l.Debug("hidden")
	l.Info("trial completed",
		Int("trial", 3),
		Uint64("seed", 42),
		Float64("mean", 1.5),
		Bool("parallel", true),
		Duration("elapsed", time.Second),
		Any("total", []float64{1, 2}),
		String("version", "quality"),
	)
	l.Warn("slow")
	l.Error("failed", Err(stderrors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "trial completed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, int64(3), ctx["trial"])
	assert.Equal(t, uint64(42), ctx["seed"])
	assert.Equal(t, "quality", ctx["version"])
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)
	child := l.Named("engine").With(String("run_id", "r1"))
	child.Debug("start")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "r1", entries[0].ContextMap()["run_id"])
}

func TestZapLogger_WithError(t *testing.T) {
	l, logs := newObservedLogger(zapcore.DebugLevel)
	err := errors.Wrap(errors.Exhaustion("budget"), errors.CodeUnknown, "trial 4 failed")
	l.WithError(err).Error("trial aborted")

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "SIM_003", ctx["code"])
	assert.Contains(t, ctx["error"], "trial 4 failed")
}

func TestErrAndCode_Nil(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
	assert.Equal(t, "OK", Code(nil).Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	assert.Equal(t, l, l.With(String("k", "v")))
	assert.Equal(t, l, l.WithError(stderrors.New("x")))
	assert.Equal(t, l, l.Named("n"))
	assert.NoError(t, l.Sync())
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newObservedLogger(zapcore.InfoLevel)
	SetDefault(l)
	assert.Equal(t, l, Default())

	SetDefault(nil)
	assert.Equal(t, l, Default())
}
