package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"mailaudit/backend/internal/config"
)

func TestFromConfig(t *testing.T) {
	opts := FromConfig(config.LogConfig{Level: "debug", Development: true, File: "/tmp/audit.log"})

	assert.Equal(t, "debug", opts.Level)
	assert.True(t, opts.Development)
	assert.Equal(t, "/tmp/audit.log", opts.LogFile)
	assert.Equal(t, defaultMaxSizeMB, opts.MaxSize)
	assert.Equal(t, defaultMaxBackups, opts.MaxBackups)
	assert.Equal(t, defaultMaxAgeDays, opts.MaxAge)
	assert.True(t, opts.Compress)
}

func TestNew(t *testing.T) {
	t.Run("无效级别回退到info", func(t *testing.T) {
		log, err := New(Options{Level: "verbose"})

		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "audit.log")

		log, err := New(Options{Level: "info", LogFile: logFile, MaxSize: 1})
		require.NoError(t, err)

		log.Info("query completed")
		_ = log.Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "query completed")
	})
}
