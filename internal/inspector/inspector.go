// Package inspector probes a media file's container/codec/stream metadata
// by invoking an external probe binary and decoding its JSON report. It
// keeps no state between calls: every Profile call shells out fresh.
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/vplayer/core/internal/perr"
)

// StreamKind classifies a probed stream.
type StreamKind string

const (
	StreamVideo StreamKind = "video"
	StreamAudio StreamKind = "audio"
	StreamOther StreamKind = "other"
)

// MediaStreamInfo describes one stream within a probed file.
type MediaStreamInfo struct {
	Kind       StreamKind
	CodecName  string
	Profile    string
	Width      int
	Height     int
	Channels   int
	SampleRate int
	BitRate    int64
	Index      int
}

// MediaProfile is the result of probing one file.
type MediaProfile struct {
	SourceURL    string
	FormatName   string // comma-separated, e.g. "mov,mp4,m4a"
	PrimaryVideo *MediaStreamInfo
	AudioStreams []MediaStreamInfo
}

// Inspector probes files by invoking an external binary.
type Inspector struct {
	ffprobePath string
	timeout     time.Duration
	logger      hclog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithTimeout overrides the default 10-second probe deadline.
func WithTimeout(d time.Duration) Option {
	return func(i *Inspector) { i.timeout = d }
}

// New creates an Inspector that shells out to ffprobePath.
func New(ffprobePath string, logger hclog.Logger, opts ...Option) *Inspector {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	i := &Inspector{
		ffprobePath: ffprobePath,
		timeout:     10 * time.Second,
		logger:      logger.Named("inspector"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// rawProbeResult mirrors ffprobe's JSON shape for -show_format -show_streams.
// Numeric fields are declared as json.Number or string-tolerant types because
// ffprobe sometimes emits bit_rate/width/height as strings and sometimes as
// numbers depending on build and stream type.
type rawProbeResult struct {
	Format struct {
		FormatName string         `json:"format_name"`
		BitRate    flexibleNumber `json:"bit_rate"`
	} `json:"format"`
	Streams []rawStream `json:"streams"`
}

type rawStream struct {
	Index      int            `json:"index"`
	CodecType  string         `json:"codec_type"`
	CodecName  string         `json:"codec_name"`
	Profile    string         `json:"profile"`
	Width      flexibleNumber `json:"width"`
	Height     flexibleNumber `json:"height"`
	Channels   flexibleNumber `json:"channels"`
	SampleRate flexibleNumber `json:"sample_rate"`
	BitRate    flexibleNumber `json:"bit_rate"`
}

// flexibleNumber decodes a JSON number or numeric string, defaulting to 0 for
// anything else (including absent fields, empty strings, or "N/A").
type flexibleNumber int64

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		v, err := asNumber.Int64()
		if err != nil {
			f, ferr := asNumber.Float64()
			if ferr != nil {
				*n = 0
				return nil
			}
			v = int64(f)
		}
		*n = flexibleNumber(v)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v, err := strconv.ParseInt(asString, 10, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = flexibleNumber(v)
		return nil
	}

	*n = 0
	return nil
}

// Profile invokes the probe binary against path and builds a MediaProfile.
// A missing binary, non-zero exit, or unparseable output yields
// perr.KindProbeUnavailable.
func (i *Inspector) Profile(ctx context.Context, path string) (MediaProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", path}
	cmd := exec.CommandContext(ctx, i.ffprobePath, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return MediaProfile{}, perr.New(perr.KindProbeUnavailable, fmt.Sprintf("ffprobe failed for %s", path), err)
	}

	var raw rawProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return MediaProfile{}, perr.New(perr.KindProbeUnavailable, "could not parse ffprobe output", err)
	}

	profile := MediaProfile{
		SourceURL:  path,
		FormatName: raw.Format.FormatName,
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if profile.PrimaryVideo == nil {
				profile.PrimaryVideo = &MediaStreamInfo{
					Kind:      StreamVideo,
					CodecName: s.CodecName,
					Profile:   s.Profile,
					Width:     int(s.Width),
					Height:    int(s.Height),
					BitRate:   int64(s.BitRate),
					Index:     s.Index,
				}
			}
		case "audio":
			profile.AudioStreams = append(profile.AudioStreams, MediaStreamInfo{
				Kind:       StreamAudio,
				CodecName:  s.CodecName,
				Channels:   int(s.Channels),
				SampleRate: int(s.SampleRate),
				BitRate:    int64(s.BitRate),
				Index:      s.Index,
			})
		}
	}

	i.logger.Debug("probed file", "path", path, "format", profile.FormatName, "audio_streams", len(profile.AudioStreams))
	return profile, nil
}
