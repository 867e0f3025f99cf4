package utils

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestR2Config_Enabled(t *testing.T) {
	full := R2Config{AccountID: "acct", AccessKeyID: "key", AccessKeySecret: "secret", Bucket: "boards"}
	assert.True(t, full.Enabled())

	noBucket := full
	noBucket.Bucket = ""
	assert.False(t, noBucket.Enabled())

	assert.False(t, R2Config{}.Enabled())
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	l.With("k", "v").Info("discarded")

	own := NewNopLogger()
	assert.Same(t, own, OrNop(own))
}

func TestOpenDatabase(t *testing.T) {
	db, err := OpenDatabase("SQLite", "file::memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, sqlDB.Close())

	_, err = OpenDatabase("mysql", "")
	assert.ErrorContains(t, err, "unsupported DATABASE_DRIVER")
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	l := newGormLogger(log.New(&buf, "", 0))
	query := func() (string, int64) { return "SELECT 1", 0 }

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len())

	l.Trace(context.Background(), time.Now(), query, errors.New("connection reset"))
	assert.Contains(t, buf.String(), "connection reset")
}
