package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndSince(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l, err := New(Options{Path: filepath.Join(t.TempDir(), "data", "verification.ndjson"), Now: func() time.Time { return now }})
	require.NoError(t, err)

	require.NoError(t, l.Append(Entry{Trigger: "click", OfferID: "of_1", Success: true, Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, l.Append(Entry{Trigger: "manual", OfferID: "of_2", Success: false, Code: "TIMEOUT"}))

	all, err := l.Since(time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[1].ID)
	assert.Equal(t, now, all[1].Timestamp)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	recent, err := l.Since(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "of_2", recent[0].OfferID)
	assert.True(t, all[0].IsClick())
}

func TestRotation(t *testing.T) {
	clock := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "verification.ndjson")
	l, err := New(Options{Path: path, MaxBytes: 200, Now: func() time.Time { return clock }})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		clock = clock.Add(time.Second)
		require.NoError(t, l.Append(Entry{Trigger: "schedule", OfferID: "of_rotation_test", Success: true}))
	}

	files, err := l.Files()
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)
	assert.Equal(t, path, files[len(files)-1])
	for _, f := range files[:len(files)-1] {
		assert.Regexp(t, `verification-\d{8}T\d{6}\.\d{9}\.ndjson$`, f)
	}

	entries, err := l.Since(time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
}

func TestSinceSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verification.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"id\":\"a\",\"ts\":\"2026-04-01T10:00:00Z\",\"offer_id\":\"of_1\"}\n"), 0o644))

	l, err := New(Options{Path: path})
	require.NoError(t, err)
	entries, err := l.Since(time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "of_1", entries[0].OfferID)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
