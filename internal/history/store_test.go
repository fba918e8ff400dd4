package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeForURLFromPlaybackOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"entries": [],
		"lastPlayedPath": "/movies/other.mp4",
		"lastPlaybackSeconds": 10,
		"playbackOffsets": {"/movies/a.mp4": 123.5}
	}`), 0644))

	s, err := New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	offset, err := s.ResumeForURL("/movies/a.mp4")
	require.NoError(t, err)
	require.NotNil(t, offset)
	assert.Equal(t, 123.5, *offset)
}

func TestResumeForURLFallsBackToLastPlayed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"entries": [],
		"lastPlayedPath": "/movies/b.mp4",
		"lastPlaybackSeconds": 42,
		"playbackOffsets": {}
	}`), 0644))

	s, err := New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	offset, err := s.ResumeForURL("/movies/b.mp4")
	require.NoError(t, err)
	require.NotNil(t, offset)
	assert.Equal(t, 42.0, *offset)

	none, err := s.ResumeForURL("/movies/c.mp4")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResumeForURLMissingFileReturnsNilWithoutError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	s, err := New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	offset, err := s.ResumeForURL("/movies/a.mp4")
	require.NoError(t, err)
	assert.Nil(t, offset)
}

func TestRecordPositionPersistsAndIsReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	s, err := New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordPosition("/movies/a.mp4", 99.0))

	offset, err := s.ResumeForURL("/movies/a.mp4")
	require.NoError(t, err)
	require.NotNil(t, offset)
	assert.Equal(t, 99.0, *offset)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "/movies/a.mp4")
}

func TestExternalRewriteInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	s, err := New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordPosition("/movies/a.mp4", 5.0))

	// Simulate an external collaborator rewriting the file directly.
	require.NoError(t, os.WriteFile(path, []byte(`{
		"entries": [],
		"lastPlayedPath": null,
		"lastPlaybackSeconds": null,
		"playbackOffsets": {"/movies/a.mp4": 777}
	}`), 0644))

	require.Eventually(t, func() bool {
		offset, err := s.ResumeForURL("/movies/a.mp4")
		return err == nil && offset != nil && *offset == 777
	}, 2*time.Second, 20*time.Millisecond)
}
