package planner

import (
	"context"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/vplayer/core/internal/format"
	"github.com/vplayer/core/internal/inspector"
)

var directVideoCodecs = map[string]struct{}{
	"h264": {}, "avc1": {}, "hev1": {}, "hevc": {},
}

var directAudioCodecs = map[string]struct{}{
	"aac": {}, "mp3": {}, "ac3": {}, "eac3": {},
}

var directContainerTokens = []string{
	"mov", "mp4", "m4a", "m4v", "ismv", "isom", "dash", "quicktime",
}

// Prober is the subset of *inspector.Inspector the planner depends on.
type Prober interface {
	Profile(ctx context.Context, path string) (inspector.MediaProfile, error)
}

// Planner maps MediaProfile to PlaybackPlan.
type Planner struct {
	prober Prober
	logger hclog.Logger
}

// New creates a Planner backed by prober.
func New(prober Prober, logger hclog.Logger) *Planner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Planner{prober: prober, logger: logger.Named("planner")}
}

func videoOK(s *inspector.MediaStreamInfo) bool {
	if s == nil {
		return false
	}
	_, ok := directVideoCodecs[strings.ToLower(s.CodecName)]
	return ok
}

func audioOK(streams []inspector.MediaStreamInfo) bool {
	for _, s := range streams {
		if _, ok := directAudioCodecs[strings.ToLower(s.CodecName)]; ok {
			return true
		}
	}
	return false
}

func firstDirectAudio(streams []inspector.MediaStreamInfo) *inspector.MediaStreamInfo {
	for i := range streams {
		if _, ok := directAudioCodecs[strings.ToLower(streams[i].CodecName)]; ok {
			return &streams[i]
		}
	}
	return nil
}

func containerOK(formatName string) bool {
	for _, tok := range strings.Split(formatName, ",") {
		tok = strings.TrimSpace(strings.ToLower(tok))
		for _, direct := range directContainerTokens {
			if tok == direct {
				return true
			}
		}
	}
	return false
}

// Plan probes url and applies the direct/remux/transcode decision
// procedure: first matching clause wins. A probe failure falls through to
// the heuristic fallback based on the file extension alone.
func (p *Planner) Plan(ctx context.Context, url string) (PlaybackPlan, error) {
	profile, err := p.prober.Profile(ctx, url)
	if err != nil {
		p.logger.Debug("probe failed, using heuristic fallback", "url", url, "error", err)
		return p.heuristicFallback(url), nil
	}

	vOK := videoOK(profile.PrimaryVideo)
	aOK := audioOK(profile.AudioStreams)
	cOK := containerOK(profile.FormatName)

	if vOK && aOK && cOK {
		return Direct(url), nil
	}

	if vOK && aOK && !cOK {
		audio := firstDirectAudio(profile.AudioStreams)
		videoIdx := profile.PrimaryVideo.Index
		audioIdx := audio.Index
		return PlaybackPlan{
			Kind: KindRemux,
			Remux: &RemuxRequest{
				SourceURL:          url,
				VideoStreamIndex:   &videoIdx,
				AudioStreamIndex:   &audioIdx,
				OriginalVideoCodec: profile.PrimaryVideo.CodecName,
			},
		}, nil
	}

	return PlaybackPlan{Kind: KindTranscode, Transcode: buildTranscode(profile)}, nil
}

// ForcedTranscodePlan skips the direct/remux clauses and always yields a
// Transcode plan, used after a renderer failure on a direct or remuxed
// stream. It re-probes so the transcode parameters reflect the actual
// source rather than a blind guess.
func (p *Planner) ForcedTranscodePlan(ctx context.Context, url string) PlaybackPlan {
	profile, err := p.prober.Profile(ctx, url)
	if err != nil {
		return fixedFallbackTranscode(url)
	}
	return PlaybackPlan{Kind: KindTranscode, Transcode: buildTranscode(profile)}
}

func buildTranscode(profile inspector.MediaProfile) *TranscodeRequest {
	width, height := 1920, 1080
	if profile.PrimaryVideo != nil {
		if profile.PrimaryVideo.Width > 0 {
			width = profile.PrimaryVideo.Width
		}
		if profile.PrimaryVideo.Height > 0 {
			height = profile.PrimaryVideo.Height
		}
	}

	maxDim := width
	if height > maxDim {
		maxDim = height
	}

	preferHEVC := maxDim >= 1920 || width >= 1920 || height >= 1080

	videoCodec := VideoH264
	if preferHEVC {
		videoCodec = VideoHEVC
	}

	var videoBitrate, bufferBitrate int
	switch {
	case maxDim >= 3800:
		if preferHEVC {
			videoBitrate = 25000
		} else {
			videoBitrate = 18000
		}
	case maxDim >= 2500:
		if preferHEVC {
			videoBitrate = 18000
		} else {
			videoBitrate = 12000
		}
	case maxDim >= 1920:
		if preferHEVC {
			videoBitrate = 12000
		} else {
			videoBitrate = 10000
		}
	default:
		if preferHEVC {
			videoBitrate = 8000
		} else {
			videoBitrate = 6000
		}
	}
	bufferBitrate = videoBitrate * 2

	maxWidthForCodec := 1920
	if preferHEVC {
		maxWidthForCodec = 3840
	}
	scaleFilter := ""
	if width > maxWidthForCodec {
		scaleFilter = scaleTo(maxWidthForCodec)
	}

	return &TranscodeRequest{
		SourceURL:        profile.SourceURL,
		VideoCodec:       videoCodec,
		AudioCodec:       AudioAAC,
		VideoBitrateKbps: videoBitrate,
		BufferSizeKbps:   bufferBitrate,
		AudioBitrateKbps: 192,
		ScaleFilter:      scaleFilter,
		HWAccel:          true,
		Output:           OutputHLS,
	}
}

func scaleTo(maxWidth int) string {
	return "scale=" + strconv.Itoa(maxWidth) + ":-2"
}

func (p *Planner) heuristicFallback(url string) PlaybackPlan {
	switch format.Classify(url) {
	case format.PrefersDirect:
		return Direct(url)
	case format.NeedsProcessing:
		return PlaybackPlan{
			Kind:  KindRemux,
			Remux: &RemuxRequest{SourceURL: url},
		}
	default:
		return fixedFallbackTranscode(url)
	}
}

func fixedFallbackTranscode(url string) PlaybackPlan {
	return PlaybackPlan{
		Kind: KindTranscode,
		Transcode: &TranscodeRequest{
			SourceURL:        url,
			VideoCodec:       VideoH264,
			AudioCodec:       AudioAAC,
			VideoBitrateKbps: 10000,
			BufferSizeKbps:   20000,
			AudioBitrateKbps: 192,
			HWAccel:          true,
			Output:           OutputHLS,
		},
	}
}
