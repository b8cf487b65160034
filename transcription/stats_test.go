package transcription

import (
	"testing"

	"mediagrab/models"
)

func TestEstimateStats(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantWords  int
		wantTokens int
	}{
		{"apostrophe word", "Don't stop", 2, 2},
		{"empty", "", 0, 0},
		{"punctuation stripped", "hello, world!", 2, 2},
		{"unicode letters", "naïve café", 2, 2},
		{"hyphen splits words not tokens", "one-two", 2, 1},
		{"curly apostrophe", "it’s fine", 2, 2},
		{"numbers count", "track 42 of 99", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := EstimateStats(&models.TranscriptionPayload{Text: tt.text})
			if stats.WordCount != tt.wantWords {
				t.Errorf("word count = %d, want %d", stats.WordCount, tt.wantWords)
			}
			if stats.TokenCount != tt.wantTokens {
				t.Errorf("token count = %d, want %d", stats.TokenCount, tt.wantTokens)
			}
		})
	}
}
