package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentflow-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew_SQLite(t *testing.T) {
	db, err := New(Config{Driver: "sqlite", Path: "file::memory:"}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.NoError(t, db.Ping(context.Background()))
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle"}, logger.NewNop())
	assert.Error(t, err)
}

func TestSlowQueryLogger_Trace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewSlowQueryLogger(logger.NewWithCore(core), 50*time.Millisecond)
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Slow query detected", logs.All()[0].Message)

	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len())

	l.Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Query failed", logs.All()[1].Message)

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now().Add(-time.Second), query, errors.New("ignored"))
	assert.Equal(t, 2, logs.Len())
}
