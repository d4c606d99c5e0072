package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/crazyremix/remix-server/internal/config"
	"github.com/crazyremix/remix-server/internal/store"
	"github.com/crazyremix/remix-server/internal/store/remote"
	"github.com/crazyremix/remix-server/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := Open(ctx, config.StorageConfig{Driver: config.DriverMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.StorageConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "rooms.db"),
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.StorageConfig{Driver: config.DriverRemote, RemoteURL: "http://127.0.0.1:1"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &remote.Store{}, s)

	_, err = Open(ctx, config.StorageConfig{Driver: "mongo"}, logger)
	assert.Error(t, err)
}
