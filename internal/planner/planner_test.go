package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vplayer/core/internal/inspector"
)

type stubProber struct {
	profile inspector.MediaProfile
	err     error
}

func (s stubProber) Profile(ctx context.Context, path string) (inspector.MediaProfile, error) {
	return s.profile, s.err
}

func TestPlanDirectMP4H264AAC(t *testing.T) {
	p := New(stubProber{profile: inspector.MediaProfile{
		SourceURL:    "movie.mp4",
		FormatName:   "mov,mp4,m4a",
		PrimaryVideo: &inspector.MediaStreamInfo{CodecName: "h264", Index: 0},
		AudioStreams: []inspector.MediaStreamInfo{{CodecName: "aac", Index: 1}},
	}}, nil)

	plan, err := p.Plan(context.Background(), "movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, KindDirect, plan.Kind)
	assert.Equal(t, "movie.mp4", plan.DirectURL)
}

func TestPlanRemuxMKVH264AAC(t *testing.T) {
	p := New(stubProber{profile: inspector.MediaProfile{
		SourceURL:    "show.mkv",
		FormatName:   "matroska,webm",
		PrimaryVideo: &inspector.MediaStreamInfo{CodecName: "h264", Index: 0},
		AudioStreams: []inspector.MediaStreamInfo{{CodecName: "aac", Index: 1}},
	}}, nil)

	plan, err := p.Plan(context.Background(), "show.mkv")
	require.NoError(t, err)
	require.Equal(t, KindRemux, plan.Kind)
	require.NotNil(t, plan.Remux)
	assert.Equal(t, "h264", plan.Remux.OriginalVideoCodec)
	require.NotNil(t, plan.Remux.VideoStreamIndex)
	require.NotNil(t, plan.Remux.AudioStreamIndex)
	assert.Equal(t, 0, *plan.Remux.VideoStreamIndex)
	assert.Equal(t, 1, *plan.Remux.AudioStreamIndex)
}

func TestPlanRemuxHEVC4K(t *testing.T) {
	p := New(stubProber{profile: inspector.MediaProfile{
		SourceURL:    "show4k.mkv",
		FormatName:   "matroska,webm",
		PrimaryVideo: &inspector.MediaStreamInfo{CodecName: "hevc", Width: 3840, Height: 2160, Index: 0},
		AudioStreams: []inspector.MediaStreamInfo{{CodecName: "aac", Index: 1}},
	}}, nil)

	plan, err := p.Plan(context.Background(), "show4k.mkv")
	require.NoError(t, err)
	require.Equal(t, KindRemux, plan.Kind)
	assert.Equal(t, "hevc", plan.Remux.OriginalVideoCodec)
}

func TestPlanTranscodeAVIMPEG2AC3(t *testing.T) {
	p := New(stubProber{profile: inspector.MediaProfile{
		SourceURL:    "old.avi",
		FormatName:   "avi",
		PrimaryVideo: &inspector.MediaStreamInfo{CodecName: "mpeg2video", Width: 4096, Height: 2160, Index: 0},
		AudioStreams: []inspector.MediaStreamInfo{{CodecName: "ac3", Index: 1}},
	}}, nil)

	plan, err := p.Plan(context.Background(), "old.avi")
	require.NoError(t, err)
	require.Equal(t, KindTranscode, plan.Kind)
	tr := plan.Transcode
	assert.Equal(t, VideoHEVC, tr.VideoCodec)
	assert.Equal(t, 25000, tr.VideoBitrateKbps)
	assert.Equal(t, 50000, tr.BufferSizeKbps)
	assert.Equal(t, AudioAAC, tr.AudioCodec)
	assert.Equal(t, 192, tr.AudioBitrateKbps)
	assert.Equal(t, "scale=3840:-2", tr.ScaleFilter)
	assert.Equal(t, OutputHLS, tr.Output)
	assert.True(t, tr.HWAccel)
}

func TestPlanHeuristicFallbackPrefersDirectExtension(t *testing.T) {
	p := New(stubProber{err: errors.New("ffprobe: no such file")}, nil)

	plan, err := p.Plan(context.Background(), "movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, KindDirect, plan.Kind)
}

func TestPlanHeuristicFallbackRecognizedExtensionIsRemux(t *testing.T) {
	p := New(stubProber{err: errors.New("ffprobe: crashed")}, nil)

	plan, err := p.Plan(context.Background(), "show.mkv")
	require.NoError(t, err)
	require.Equal(t, KindRemux, plan.Kind)
	assert.Nil(t, plan.Remux.VideoStreamIndex)
	assert.Nil(t, plan.Remux.AudioStreamIndex)
}

func TestPlanHeuristicFallbackUnrecognizedExtensionIsFixedTranscode(t *testing.T) {
	p := New(stubProber{err: errors.New("ffprobe: crashed")}, nil)

	plan, err := p.Plan(context.Background(), "mystery.xyz")
	require.NoError(t, err)
	require.Equal(t, KindTranscode, plan.Kind)
	assert.Equal(t, VideoH264, plan.Transcode.VideoCodec)
	assert.Equal(t, 10000, plan.Transcode.VideoBitrateKbps)
	assert.Equal(t, 20000, plan.Transcode.BufferSizeKbps)
	assert.Equal(t, OutputHLS, plan.Transcode.Output)
}

func TestForcedTranscodePlanAlwaysYieldsTranscode(t *testing.T) {
	cases := []stubProber{
		{profile: inspector.MediaProfile{
			PrimaryVideo: &inspector.MediaStreamInfo{CodecName: "h264", Index: 0},
			AudioStreams: []inspector.MediaStreamInfo{{CodecName: "aac"}},
			FormatName:   "mov,mp4,m4a",
		}},
		{err: errors.New("boom")},
	}
	for _, c := range cases {
		p := New(c, nil)
		plan := p.ForcedTranscodePlan(context.Background(), "any.mp4")
		assert.Equal(t, KindTranscode, plan.Kind)
	}
}

func TestDirectIffAllThreeOK(t *testing.T) {
	type tc struct {
		name         string
		video        *inspector.MediaStreamInfo
		audio        []inspector.MediaStreamInfo
		formatName   string
		expectDirect bool
	}
	cases := []tc{
		{"all ok", &inspector.MediaStreamInfo{CodecName: "h264"}, []inspector.MediaStreamInfo{{CodecName: "aac"}}, "mov,mp4,m4a", true},
		{"bad container", &inspector.MediaStreamInfo{CodecName: "h264"}, []inspector.MediaStreamInfo{{CodecName: "aac"}}, "matroska,webm", false},
		{"bad video codec", &inspector.MediaStreamInfo{CodecName: "mpeg2video"}, []inspector.MediaStreamInfo{{CodecName: "aac"}}, "mov,mp4,m4a", false},
		{"bad audio codec", &inspector.MediaStreamInfo{CodecName: "h264"}, []inspector.MediaStreamInfo{{CodecName: "flac"}}, "mov,mp4,m4a", false},
		{"no video", nil, []inspector.MediaStreamInfo{{CodecName: "aac"}}, "mov,mp4,m4a", false},
	}

	for _, c := range cases {
		p := New(stubProber{profile: inspector.MediaProfile{
			PrimaryVideo: c.video,
			AudioStreams: c.audio,
			FormatName:   c.formatName,
		}}, nil)

		plan, err := p.Plan(context.Background(), "x.mp4")
		require.NoError(t, err)
		assert.Equal(t, c.expectDirect, plan.IsDirect(), c.name)
	}
}
