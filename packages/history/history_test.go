package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	run := Run{
		ID:         "run-1",
		StartedAt:  started,
		Method:     "GET",
		URL:        "https://example.com/",
		Status:     "200",
		StatusCode: 200,
		Redirects:  2,
		Duration:   1500 * time.Millisecond,
		Timeline: []timeline.Entry{
			{Timestamp: started, Type: timeline.TypeInfo, Message: "Preparing request to https://example.com/"},
			{Timestamp: started.Add(time.Millisecond), Type: timeline.TypeResponse, Message: "HTTP/1.1 200 OK"},
		},
	}
	require.NoError(t, s.Record(ctx, run))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, 2, got.Redirects)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, started.Equal(got.StartedAt))
	require.Len(t, got.Timeline, 2)
	assert.Equal(t, timeline.TypeResponse, got.Timeline[1].Type)
	assert.Equal(t, "HTTP/1.1 200 OK", got.Timeline[1].Message)
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, Run{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Method:    "GET",
			URL:       "http://localhost/" + id,
			Status:    "ECONNREFUSED",
			Code:      "ECONNREFUSED",
		}))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Empty(t, runs[0].Timeline)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordReplacesSameID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Run{ID: "x", StartedAt: time.Now(), Method: "GET", URL: "u", Status: "500", StatusCode: 500}))
	require.NoError(t, s.Record(ctx, Run{ID: "x", StartedAt: time.Now(), Method: "GET", URL: "u", Status: "200", StatusCode: 200}))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 200, runs[0].StatusCode)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open("sqlite:" + path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Run{ID: "keep", StartedAt: time.Now(), Method: "POST", URL: "u", Status: "201", StatusCode: 201}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	run, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "POST", run.Method)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("sqlite://")
	assert.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	assert.Equal(t, "/tmp/a.db", parseConnectionString("sqlite:///tmp/a.db"))
	assert.Equal(t, "./a.db", parseConnectionString("sqlite:./a.db"))
	assert.Equal(t, "a.db", parseConnectionString(" a.db "))
}
