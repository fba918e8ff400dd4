package processing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vplayer/core/internal/perr"
	"github.com/vplayer/core/internal/planner"
)

// fakeFFmpeg writes a shell script that stands in for ffmpeg, running body.
// Bodies that produce output write it to the last argument, since every
// real invocation in this package appends the output path last.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/bash\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestPrepareRemuxSucceeds(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `
out="${@: -1}"
echo "fake output" > "$out"
exit 0
`)

	scratchRoot := t.TempDir()
	c := New(Config{FFmpegPath: ffmpeg, ScratchRoot: scratchRoot})

	idx := 0
	task, results, err := c.PrepareRemux(context.Background(), planner.RemuxRequest{
		SourceURL:          "input.mkv",
		VideoStreamIndex:   &idx,
		OriginalVideoCodec: "h264",
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		require.NotNil(t, r.Artifact)
		assert.Equal(t, ArtifactFile, r.Artifact.Kind)
		assert.FileExists(t, r.Artifact.FilePath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPrepareRemuxNonZeroExitIsProcessingFailed(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `
echo "boom: invalid data found" 1>&2
exit 1
`)

	c := New(Config{FFmpegPath: ffmpeg, ScratchRoot: t.TempDir()})

	task, results, err := c.PrepareRemux(context.Background(), planner.RemuxRequest{SourceURL: "input.mkv"})
	require.NoError(t, err)
	require.NotNil(t, task)

	select {
	case r := <-results:
		require.Error(t, r.Err)
		assert.True(t, perr.IsKind(r.Err, perr.KindProcessingFailed))
		assert.Nil(t, r.Artifact)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPrepareTranscodeHLSWaitsForEXTINF(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `
out="${@: -1}"
sleep 0.2
echo "#EXTM3U" > "$out"
echo "#EXTINF:4.0," >> "$out"
echo "segment_00000.ts" >> "$out"
sleep 5
exit 0
`)

	c := New(Config{
		FFmpegPath:      ffmpeg,
		ScratchRoot:     t.TempDir(),
		HLSPollInterval: 50 * time.Millisecond,
		HLSReadyTimeout: 3 * time.Second,
	})

	task, results, err := c.PrepareTranscode(context.Background(), planner.TranscodeRequest{
		SourceURL: "input.avi",
		Output:    planner.OutputHLS,
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		require.NotNil(t, r.Artifact)
		assert.Equal(t, ArtifactHLS, r.Artifact.Kind)
		assert.Equal(t, "master.m3u8", r.Artifact.HLSPlaylist)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hls readiness")
	}

	task.Cancel()
}

func TestPrepareTranscodeHLSTimesOutWithoutEXTINF(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `
out="${@: -1}"
echo "#EXTM3U" > "$out"
sleep 5
exit 0
`)

	c := New(Config{
		FFmpegPath:      ffmpeg,
		ScratchRoot:     t.TempDir(),
		HLSPollInterval: 20 * time.Millisecond,
		HLSReadyTimeout: 150 * time.Millisecond,
	})

	_, results, err := c.PrepareTranscode(context.Background(), planner.TranscodeRequest{
		SourceURL: "input.avi",
		Output:    planner.OutputHLS,
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		require.Error(t, r.Err)
		assert.Nil(t, r.Artifact)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for timeout result")
	}
}

func TestTaskCancelIsIdempotent(t *testing.T) {
	task := newTask()
	calls := 0
	task.setCancelHandler(func() { calls++ })

	task.Cancel()
	task.Cancel()

	assert.Equal(t, 1, calls)
}

func TestTaskCancelBeforeHandlerFiresImmediately(t *testing.T) {
	task := newTask()
	task.Cancel()

	fired := false
	task.setCancelHandler(func() { fired = true })

	assert.True(t, fired)
}

func TestArtifactCleanupIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "job")
	require.NoError(t, os.MkdirAll(sub, 0755))

	a := &Artifact{Kind: ArtifactFile, FilePath: filepath.Join(sub, "output.mp4"), scratchDir: sub}

	require.NoError(t, a.Cleanup())
	assert.NoDirExists(t, sub)
	require.NoError(t, a.Cleanup())
}
