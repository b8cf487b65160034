package transcription

import (
	"regexp"
	"strings"

	"mediagrab/models"
)

// wordPattern matches runs of Unicode letters/digits, optionally joined
// by internal apostrophes ("Don't" is one word).
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// EstimateStats derives deterministic word and token counts from a
// payload's text. Token count falls back to the word count when the
// text has no whitespace-delimited chunks.
func EstimateStats(payload *models.TranscriptionPayload) models.TranscriptionStats {
	words := len(wordPattern.FindAllString(payload.Text, -1))

	tokens := len(strings.Fields(payload.Text))
	if tokens == 0 {
		tokens = words
	}

	return models.TranscriptionStats{
		WordCount:  words,
		TokenCount: tokens,
	}
}
