// Package formats holds the closed, table-driven set of deliverable
// format profiles. Adding a deliverable means adding a table row; no
// per-format control flow exists outside of table lookup.
package formats

import (
	"fmt"
	"sort"

	"mediagrab/errors"
)

type Kind string

const (
	KindExtract    Kind = "extract"
	KindRecode     Kind = "recode"
	KindTranscribe Kind = "transcribe"
)

// Profile describes one deliverable. Exactly one of Selector, Args or
// Render is meaningful, depending on Kind.
type Profile struct {
	Name     string
	Kind     Kind
	Selector string   // yt-dlp format selector
	Audio    bool     // extraction yields audio only
	Args     []string // ffmpeg argument vector
	Render   string   // transcript render format: txt, json or srt
	Ext      string
	MIME     string
}

var table = map[string]Profile{
	"video_best": {
		Name:     "video_best",
		Kind:     KindExtract,
		Selector: "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		Ext:      "mp4",
		MIME:     "video/mp4",
	},
	"video_low": {
		Name:     "video_low",
		Kind:     KindExtract,
		Selector: "best[height<=480][ext=mp4]/best[height<=480]/best",
		Ext:      "mp4",
		MIME:     "video/mp4",
	},
	"audio_best": {
		Name:     "audio_best",
		Kind:     KindExtract,
		Selector: "bestaudio[ext=m4a]/bestaudio",
		Audio:    true,
		Ext:      "m4a",
		MIME:     "audio/mp4",
	},
	"audio_low": {
		Name:     "audio_low",
		Kind:     KindExtract,
		Selector: "worstaudio[abr>=48]/worstaudio/bestaudio",
		Audio:    true,
		Ext:      "m4a",
		MIME:     "audio/mp4",
	},
	"mp3_192": {
		Name: "mp3_192",
		Kind: KindRecode,
		Args: []string{"-vn", "-acodec", "libmp3lame", "-b:a", "192k"},
		Ext:  "mp3",
		MIME: "audio/mpeg",
	},
	"aac_128": {
		Name: "aac_128",
		Kind: KindRecode,
		Args: []string{"-vn", "-c:a", "aac", "-b:a", "128k"},
		Ext:  "m4a",
		MIME: "audio/mp4",
	},
	"mp4_720p": {
		Name: "mp4_720p",
		Kind: KindRecode,
		Args: []string{
			"-vf", "scale=-2:min(720\\,ih)",
			"-c:v", "libx264", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
		},
		Ext:  "mp4",
		MIME: "video/mp4",
	},
	"webm_vp9": {
		Name: "webm_vp9",
		Kind: KindRecode,
		Args: []string{"-c:v", "libvpx-vp9", "-crf", "34", "-b:v", "0", "-c:a", "libopus"},
		Ext:  "webm",
		MIME: "video/webm",
	},
	"transcript_txt": {
		Name:   "transcript_txt",
		Kind:   KindTranscribe,
		Render: "txt",
		Ext:    "txt",
		MIME:   "text/plain; charset=utf-8",
	},
	"transcript_srt": {
		Name:   "transcript_srt",
		Kind:   KindTranscribe,
		Render: "srt",
		Ext:    "srt",
		MIME:   "application/x-subrip",
	},
	"transcript_json": {
		Name:   "transcript_json",
		Kind:   KindTranscribe,
		Render: "json",
		Ext:    "json",
		MIME:   "application/json",
	},
}

// Lookup resolves a format identifier against the table. Unknown
// identifiers are rejected before any network or subprocess work.
func Lookup(name string) (Profile, error) {
	const op = "formats.Lookup"

	profile, ok := table[name]
	if !ok {
		return Profile{}, errors.InvalidInput(op, nil, fmt.Sprintf("unsupported format %q", name))
	}
	return profile, nil
}

// Default is the canonical high-quality source profile used when a
// re-encode preset needs raw input.
func Default() Profile {
	return table["video_best"]
}

// TranscribeSource is the low-bitrate audio profile fetched as
// transcription input.
func TranscribeSource() Profile {
	return table["audio_low"]
}

// Category maps a format identifier to its usage category. Unknown
// names fall through to "video" so telemetry never rejects an event.
func Category(name string) string {
	profile, ok := table[name]
	if !ok {
		return "video"
	}
	switch profile.Kind {
	case KindRecode:
		return "recoding"
	case KindTranscribe:
		return "transcription"
	default:
		if profile.Audio {
			return "audio"
		}
		return "video"
	}
}

// Names returns the closed set of format identifiers, sorted.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
