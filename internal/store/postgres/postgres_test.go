package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/crazyremix/remix-server/internal/store/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("REMIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REMIX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.pool.Exec(ctx, `TRUNCATE rooms`)
	require.NoError(t, err)

	storetest.Run(t, s)
}
