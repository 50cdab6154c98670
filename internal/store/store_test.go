package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/camara-sync/internal/model"
)

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newTestStore opens a Store on a fresh database file under t.TempDir().
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

// fixedClock pins the store's clock and returns a setter for advancing it.
func fixedClock(s *Store, start time.Time) func(time.Time) {
	now := start
	s.nowFunc = func() time.Time { return now }

	return func(t time.Time) { now = t }
}

func ptr[T any](v T) *T {
	return &v
}

func listingDeputy(externalID int64, name, state, party string) model.Deputy {
	return model.Deputy{
		ExternalID:   externalID,
		Name:         name,
		StateCode:    state,
		PartyAcronym: party,
		Source:       model.SourceListing,
	}
}

func seedDeputy(t *testing.T, s *Store, externalID int64) string {
	t.Helper()

	res, err := s.Deputies().Upsert(context.Background(),
		listingDeputy(externalID, "Deputy", "SP", "XYZ"))
	require.NoError(t, err)

	return res.ID
}

func TestOpen_MigratesAndReopens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)

	v1, err := s1.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v1)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)
	defer s2.Close()

	v2, err := s2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestSetChunkSize(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	s.SetChunkSize(7)
	assert.Equal(t, 7, s.chunkSize)

	s.SetChunkSize(0)
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUnavailable(context.Canceled))
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.False(t, IsUnavailable(ErrNotFound))
}

func TestSelectStaleDeputies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	setNow := fixedClock(s, now)

	fresh := seedDeputy(t, s, 1)

	setNow(now.Add(-61 * time.Minute))
	stale := seedDeputy(t, s, 2)

	setNow(now.Add(-3 * time.Hour))
	older := seedDeputy(t, s, 3)

	setNow(now.Add(-60 * time.Minute))
	boundary := seedDeputy(t, s, 4)

	// A never-synced row sorts before every synced one.
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO deputies (id, external_id, name, created_at) VALUES ('never', 5, 'N', 0)`)
	require.NoError(t, err)

	setNow(now)

	got, err := s.SelectStaleDeputies(ctx, model.DefaultStaleAfter, 10)
	require.NoError(t, err)

	var ids []string
	for _, d := range got {
		ids = append(ids, d.ID)
	}

	assert.Equal(t, []string{"never", older, stale}, ids)
	assert.NotContains(t, ids, fresh)
	assert.NotContains(t, ids, boundary)
	assert.Nil(t, got[0].LastSyncedAt)

	limited, err := s.SelectStaleDeputies(ctx, model.DefaultStaleAfter, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "never", limited[0].ID)

	all, err := s.SelectStaleDeputies(ctx, model.DefaultStaleAfter, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
