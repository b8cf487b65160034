package formats

import (
	"sort"
	"testing"

	"mediagrab/errors"
)

func TestLookupUnknown(t *testing.T) {
	for _, name := range []string{"blu-ray-4k", "", "VIDEO_BEST", "mp3"} {
		if _, err := Lookup(name); err == nil {
			t.Errorf("Lookup(%q): expected an error", name)
		} else if !errors.IsValidation(err) {
			t.Errorf("Lookup(%q): expected a validation error, got %v", name, err)
		}
	}
}

func TestLookupKnown(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
	}{
		{"video_best", KindExtract},
		{"audio_low", KindExtract},
		{"mp3_192", KindRecode},
		{"mp4_720p", KindRecode},
		{"transcript_srt", KindTranscribe},
	}

	for _, tt := range tests {
		profile, err := Lookup(tt.name)
		if err != nil {
			t.Errorf("Lookup(%q): %v", tt.name, err)
			continue
		}
		if profile.Name != tt.name {
			t.Errorf("Lookup(%q): got name %q", tt.name, profile.Name)
		}
		if profile.Kind != tt.kind {
			t.Errorf("Lookup(%q): got kind %q, want %q", tt.name, profile.Kind, tt.kind)
		}
		if profile.Ext == "" || profile.MIME == "" {
			t.Errorf("Lookup(%q): profile missing ext or mime: %+v", tt.name, profile)
		}
	}
}

func TestProfileShapes(t *testing.T) {
	for _, name := range Names() {
		profile, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		switch profile.Kind {
		case KindExtract:
			if profile.Selector == "" {
				t.Errorf("%s: extraction profile without a selector", name)
			}
		case KindRecode:
			if len(profile.Args) == 0 {
				t.Errorf("%s: re-encode profile without ffmpeg args", name)
			}
		case KindTranscribe:
			if profile.Render == "" {
				t.Errorf("%s: transcript profile without a render format", name)
			}
		default:
			t.Errorf("%s: unknown kind %q", name, profile.Kind)
		}
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"video_best", "video"},
		{"video_low", "video"},
		{"audio_best", "audio"},
		{"mp3_192", "recoding"},
		{"webm_vp9", "recoding"},
		{"transcript_srt", "transcription"},
		{"no-such-format", "video"},
	}

	for _, tt := range tests {
		if got := Category(tt.name); got != tt.want {
			t.Errorf("Category(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	if d := Default(); d.Kind != KindExtract || d.Audio {
		t.Errorf("Default() should be a video extraction profile, got %+v", d)
	}
	if s := TranscribeSource(); s.Kind != KindExtract || !s.Audio {
		t.Errorf("TranscribeSource() should be an audio extraction profile, got %+v", s)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	if len(names) != len(table) {
		t.Fatalf("Names() returned %d entries, table has %d", len(names), len(table))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("Names() not sorted: %v", names)
	}
}
