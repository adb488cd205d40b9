package ffmpeg

import (
	"path/filepath"
	"strings"
)

// Video encoding settings used for non-audio transcode targets.
const (
	VideoCodecH264 = "libx264"
	VideoPreset    = "fast"
	VideoCRF       = "22"
)

// DefaultAudioCodec is used for unrecognised encodings.
const DefaultAudioCodec = "aac"

var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"wav":  "pcm_s16le",
	"m4a":  "aac",
	"aac":  "aac",
	"flac": "flac",
	"ogg":  "libvorbis",
	"opus": "libopus",
}

// AudioCodecFor maps a target encoding name to an ffmpeg audio encoder.
// Names are matched case-insensitively; anything else falls back to aac.
func AudioCodecFor(encoding string) string {
	if codec, ok := audioCodecs[strings.ToLower(strings.TrimSpace(encoding))]; ok {
		return codec
	}
	return DefaultAudioCodec
}

// IsAudioOnlyOutput reports whether the output path's extension names an
// audio-only container. The check is case-insensitive.
func IsAudioOnlyOutput(outputPath string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(outputPath), "."))
	_, ok := audioCodecs[ext]
	return ok
}
