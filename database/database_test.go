package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBufferedGormLogger(level logger.LogLevel) (logger.Interface, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	sl := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gl := &gormLogger{slogger: sl, slowThreshold: 100 * time.Millisecond}
	return gl.LogMode(level), buf
}

func TestGormLoggerTrace(t *testing.T) {
	ctx := context.Background()
	fc := func() (string, int64) { return "SELECT 1", 1 }

	t.Run("error is logged at error level", func(t *testing.T) {
		l, buf := newBufferedGormLogger(logger.Warn)
		l.Trace(ctx, time.Now(), fc, errors.New("boom"))
		assert.Contains(t, buf.String(), `"level":"ERROR"`)
		assert.Contains(t, buf.String(), "boom")
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		l, buf := newBufferedGormLogger(logger.Warn)
		l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
		assert.NotContains(t, buf.String(), `"level":"ERROR"`)
	})

	t.Run("slow query is a warning", func(t *testing.T) {
		l, buf := newBufferedGormLogger(logger.Warn)
		l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
		assert.Contains(t, buf.String(), "GORM slow query")
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		l, buf := newBufferedGormLogger(logger.Silent)
		l.Trace(ctx, time.Now(), fc, errors.New("boom"))
		l.Error(ctx, "ignored")
		assert.Empty(t, buf.String())
	})
}

func TestGormLoggerLevels(t *testing.T) {
	ctx := context.Background()
	l, buf := newBufferedGormLogger(logger.Warn)

	l.Info(ctx, "info message")
	assert.Empty(t, buf.String())

	l.Warn(ctx, "warn message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestLogModeReturnsCopy(t *testing.T) {
	base := &gormLogger{slogger: slog.Default(), level: logger.Error}
	_ = base.LogMode(logger.Info)
	assert.Equal(t, logger.Error, base.level)
}
