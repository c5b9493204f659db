// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initToBuffer resets the global logger and points its console core at a buffer.
func initToBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console output is colorized and named", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "catalog-test",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("batch").Info("item resolved")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "item resolved")
		assert.Contains(t, out, ansi["green"]+"INFO"+ansiReset)
		assert.Contains(t, out, "catalog-test.batch")
	})

	t.Run("json output carries fields", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})
		GetLogger().Warn("session lost", zap.String("isbn", "9780306406157"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "session lost", entry["msg"])
		assert.Equal(t, "9780306406157", entry["isbn"])
	})

	t.Run("empty service name falls back to the binary name", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json"})
		GetLogger().Info("hello")
		Sync()
		assert.Contains(t, buf.String(), `"logger":"catalog-cli"`)
	})

	t.Run("level below threshold is dropped", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("quiet")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("writes a json copy to the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "catalog.log")
		initToBuffer(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1})
		GetLogger().Error("goes to the file")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"goes to the file"`)
	})

	t.Run("only initializes once", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, first, GetLogger())

		GetLogger().Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestSecret(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json"})
	GetLogger().Info("login", Secret("password", "hunter2"), Secret("token", ""))
	Sync()

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"password":"[REDACTED]"`)
	assert.Contains(t, out, `"token":""`)
}

func TestMaskingCore(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{Level: "debug", Format: "json"})
	GetLogger().With(zap.String("Username", "cataloger")).Info("login",
		zap.String("password", "hunter2"),
		zap.ByteString("cookie", []byte("catalog_session=tok-1")),
		zap.String("isbn", "9780306406157"),
	)
	Sync()

	out := buf.String()
	assert.NotContains(t, out, "cataloger")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "tok-1")
	assert.Contains(t, out, `"Username":"[REDACTED]"`)
	assert.Contains(t, out, `"password":"[REDACTED]"`)
	assert.Contains(t, out, `"isbn":"9780306406157"`)
}

func TestMask(t *testing.T) {
	plain := []zapcore.Field{zap.String("isbn", "1"), zap.Int("attempt", 2)}
	assert.Equal(t, plain, mask(plain))

	in := []zapcore.Field{zap.String("isbn", "1"), zap.String("password", "x"), zap.String("username", "")}
	out := mask(in)
	assert.Equal(t, "x", in[1].String, "the caller's slice is not modified")
	assert.Equal(t, redacted, out[1].String)
	assert.Equal(t, "", out[2].String, "unset values stay visible as unset")
}

func TestUnsyncable(t *testing.T) {
	assert.True(t, unsyncable(&os.PathError{Op: "sync", Path: "/dev/stderr", Err: syscall.EINVAL}))
	assert.True(t, unsyncable(syscall.ENOTTY))
	assert.False(t, unsyncable(os.ErrPermission))
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		initToBuffer(t, config.LoggerConfig{Level: "info"})
		assert.Equal(t, current.Load(), GetLogger())
	})
}
