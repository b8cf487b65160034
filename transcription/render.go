package transcription

import (
	"encoding/json"
	"fmt"
	"strings"

	"mediagrab/errors"
	"mediagrab/models"
)

// Render serializes a normalized payload into one of the deliverable
// transcript formats: json (pretty-printed full payload), txt (trimmed
// text only) or srt.
func Render(payload *models.TranscriptionPayload, format string) ([]byte, error) {
	const op = "transcription.Render"

	switch format {
	case "json":
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, errors.Internal(op, err, "Failed to encode transcription")
		}
		return data, nil
	case "txt":
		return []byte(strings.TrimSpace(payload.Text)), nil
	case "srt":
		return []byte(renderSRT(payload)), nil
	default:
		return nil, errors.InvalidInput(op, nil, fmt.Sprintf("unsupported transcript format %q", format))
	}
}

// renderSRT writes one numbered entry per segment with millisecond
// precision timestamps. A payload without segments yields a single
// zero-length entry carrying the full text.
func renderSRT(payload *models.TranscriptionPayload) string {
	segments := payload.Segments
	if len(segments) == 0 {
		segments = []models.Segment{{Start: 0, End: 0, Text: strings.TrimSpace(payload.Text)}}
	}

	entries := make([]string, 0, len(segments))
	for i, seg := range segments {
		entries = append(entries, fmt.Sprintf("%d\n%s --> %s\n%s",
			i+1, srtTimestamp(seg.Start), srtTimestamp(seg.End), seg.Text))
	}
	return strings.Join(entries, "\n\n") + "\n"
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)

	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	ms := millis - s*1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
