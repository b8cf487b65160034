package models

import "time"

// CacheEntry is the metadata sidecar persisted next to each cached payload.
type CacheEntry struct {
	Fingerprint  string     `json:"fingerprint"`
	Title        string     `json:"title,omitempty"`
	Filename     string     `json:"filename"`
	SourceURL    string     `json:"source_url"`
	MediaFormat  string     `json:"media_format"`
	DownloadedAt int64      `json:"downloaded_at"`
	Extra        EntryExtra `json:"extra,omitempty"`
}

type EntryExtra struct {
	Preset string              `json:"preset,omitempty"`
	Stats  *TranscriptionStats `json:"transcription_stats,omitempty"`
}

func (e *CacheEntry) Age() time.Duration {
	return time.Since(time.Unix(e.DownloadedAt, 0))
}

// Metadata is what a probe returns; no payload is downloaded for it.
type Metadata struct {
	Title     string   `json:"title"`
	Duration  float64  `json:"duration"`
	Uploader  string   `json:"uploader,omitempty"`
	Extractor string   `json:"extractor,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Candidate is one ranked search result.
type Candidate struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Uploader string  `json:"uploader,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// TranscriptionPayload is the normalized transcription shape, regardless
// of which provider produced it.
type TranscriptionPayload struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptionStats struct {
	WordCount  int `json:"word_count"`
	TokenCount int `json:"token_count"`
}

// UsageEvent is one append-only usage log line. Events are never mutated
// once written.
type UsageEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	MediaFormat string    `json:"media_format"`
	CacheHit    bool      `json:"cache_hit"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	WordCount   int       `json:"word_count,omitempty"`
	TokenCount  int       `json:"token_count,omitempty"`
}

// UsageSummary is derived from the log on demand and never persisted.
type UsageSummary struct {
	Days       int           `json:"days"`
	Buckets    []DayBucket   `json:"buckets"`
	Totals     UsageCounters `json:"totals"`
	TopFormats []FormatCount `json:"top_formats"`
}

type DayBucket struct {
	Date string `json:"date"`
	UsageCounters
}

type UsageCounters struct {
	Downloads      int   `json:"downloads"`
	APIDownloads   int   `json:"api_downloads"`
	WebDownloads   int   `json:"web_downloads"`
	OtherDownloads int   `json:"other_downloads"`
	CacheHits      int   `json:"cache_hits"`
	Recodings      int   `json:"recodings"`
	Transcriptions int   `json:"transcriptions"`
	Words          int64 `json:"words"`
	Tokens         int64 `json:"tokens"`
}

func (c *UsageCounters) Observe(ev UsageEvent) {
	c.Downloads++
	switch ev.Source {
	case "api":
		c.APIDownloads++
	case "web":
		c.WebDownloads++
	default:
		c.OtherDownloads++
	}
	if ev.CacheHit {
		c.CacheHits++
	}
	switch ev.Category {
	case "recoding":
		c.Recodings++
	case "transcription":
		c.Transcriptions++
	}
	c.Words += int64(ev.WordCount)
	c.Tokens += int64(ev.TokenCount)
}

type FormatCount struct {
	MediaFormat string `json:"media_format"`
	Count       int    `json:"count"`
}
