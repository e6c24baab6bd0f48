package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesRotatingFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(LoggerConfig{FilePath: dir, Encoding: "json", Level: "debug"}, "roomsync")
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "roomsync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"AppName":"roomsync"`)
}

type failingSyncer struct {
	bytes.Buffer
	err error
}

func (f *failingSyncer) Sync() error { return f.err }

func TestConsoleSyncer_IgnoresUnsyncableStreams(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EINVAL, syscall.ENOTTY} {
		ws := consoleSyncer{&failingSyncer{err: &os.PathError{Op: "sync", Path: "/dev/stderr", Err: errno}}}
		assert.NoError(t, ws.Sync(), errno.Error())
	}

	diskFull := errors.New("no space left on device")
	ws := consoleSyncer{&failingSyncer{err: diskFull}}
	assert.ErrorIs(t, ws.Sync(), diskFull)
}

func TestConsoleSyncer_StillWrites(t *testing.T) {
	sink := &failingSyncer{}
	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(consoleSyncer{sink}),
		zapcore.InfoLevel,
	))

	logger.Info("to console")
	require.NoError(t, logger.Sync())
	assert.Contains(t, sink.String(), `"msg":"to console"`)
}

func TestFor_AddsCategoryFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	For(zap.New(core), Socket, Reconnect).Info("retrying", Fields(map[ExtraKey]any{Attempt: 2})...)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "Socket", ctx["category"])
	assert.Equal(t, "Reconnect", ctx["subCategory"])
	assert.EqualValues(t, 2, ctx["Attempt"])
}

func TestFor_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		For(nil, General, Startup).Info("ignored")
	})
}
