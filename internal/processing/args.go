package processing

import (
	"path/filepath"
	"strconv"

	"github.com/vplayer/core/internal/planner"
)

// hevcCodecNames are the OriginalVideoCodec values that trigger an hvc1
// compatibility tag on remux.
var hevcCodecNames = map[string]struct{}{
	"hevc": {}, "hev1": {}, "h265": {},
}

func isHEVC(codec string) bool {
	_, ok := hevcCodecNames[codec]
	return ok
}

// buildRemuxArgs constructs the ffmpeg argument vector for a remux job:
// quiet/overwrite, input, stream mapping, copy codecs with faststart,
// optional hvc1 tag, output path.
func buildRemuxArgs(req planner.RemuxRequest, scratchDir string) []string {
	args := []string{"-loglevel", "warning", "-y", "-i", req.SourceURL}

	if req.VideoStreamIndex != nil {
		args = append(args, "-map", "0:"+strconv.Itoa(*req.VideoStreamIndex))
	} else {
		args = append(args, "-map", "0:v:0")
	}

	if req.AudioStreamIndex != nil {
		args = append(args, "-map", "0:"+strconv.Itoa(*req.AudioStreamIndex))
	} else {
		args = append(args, "-map", "0:a:0?")
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy", "-movflags", "faststart")

	if isHEVC(req.OriginalVideoCodec) {
		args = append(args, "-tag:v", "hvc1")
	}

	args = append(args, filepath.Join(scratchDir, "output.mp4"))
	return args
}

// videoCodecFlag maps a planner.VideoCodec to the platform encoder name.
// videotoolbox is the macOS hardware encoder family the original targets;
// non-hwaccel paths use the software encoder as a documented equivalent.
func videoCodecFlag(codec planner.VideoCodec, hwaccel bool) string {
	switch codec {
	case planner.VideoHEVC:
		if hwaccel {
			return "hevc_videotoolbox"
		}
		return "libx265"
	default:
		if hwaccel {
			return "h264_videotoolbox"
		}
		return "libx264"
	}
}

// buildTranscodeArgs constructs the ffmpeg argument vector for a transcode
// job.
func buildTranscodeArgs(req planner.TranscodeRequest, scratchDir string) []string {
	args := []string{"-hide_banner", "-loglevel", "info", "-y"}

	if req.HWAccel {
		args = append(args, "-hwaccel", "videotoolbox")
	}

	args = append(args, "-i", req.SourceURL, "-map", "0:v:0", "-map", "0:a:0?")

	args = append(args, "-c:v", videoCodecFlag(req.VideoCodec, req.HWAccel))
	args = append(args, "-b:v", strconv.Itoa(req.VideoBitrateKbps)+"k")
	args = append(args, "-maxrate", strconv.Itoa(req.VideoBitrateKbps)+"k")
	args = append(args, "-bufsize", strconv.Itoa(req.BufferSizeKbps)+"k")
	args = append(args, "-pix_fmt", "yuv420p")

	if req.VideoCodec == planner.VideoHEVC {
		args = append(args, "-tag:v", "hvc1")
	}

	if req.ScaleFilter != "" {
		args = append(args, "-vf", req.ScaleFilter)
	}

	args = append(args, "-c:a", string(req.AudioCodec))
	args = append(args, "-b:a", strconv.Itoa(req.AudioBitrateKbps)+"k")

	switch req.Output {
	case planner.OutputProgressiveMP4:
		args = append(args, "-movflags", "faststart", filepath.Join(scratchDir, "output.mp4"))
	case planner.OutputHLS:
		args = append(args,
			"-f", "hls",
			"-hls_time", "4",
			"-hls_playlist_type", "event",
			"-hls_flags", "independent_segments+append_list",
			"-hls_segment_filename", filepath.Join(scratchDir, "segment_%05d.ts"),
			filepath.Join(scratchDir, "master.m3u8"),
		)
	}

	return args
}
