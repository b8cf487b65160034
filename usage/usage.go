// Package usage keeps the append-only usage event log and derives
// day-windowed summaries from it. Lines are newline-delimited JSON and
// are never rewritten in place; retention is handled by size-based
// rotation.
package usage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"mediagrab/formats"
	"mediagrab/models"
)

type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Recorder struct {
	config Config
	writer *lumberjack.Logger
	mu     sync.Mutex
	logger *logrus.Logger
}

func NewRecorder(cfg Config) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}

	return &Recorder{
		config: cfg,
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
		logger: logrus.StandardLogger(),
	}, nil
}

func (r *Recorder) Close() error {
	return r.writer.Close()
}

// Record appends one immutable event line. The category is derived from
// the media format when the caller left it empty.
func (r *Recorder) Record(event models.UsageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Category == "" {
		event.Category = formats.Category(event.MediaFormat)
	}
	if event.Source == "" {
		event.Source = "api"
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.writer.Write(line)
	return err
}

// InferSource decides where a request came from. An explicit override
// wins; otherwise a non-API referer or a browser-like user agent
// implies the web UI, and everything else counts as API traffic.
func InferSource(override, referer, userAgent string) string {
	switch strings.ToLower(strings.TrimSpace(override)) {
	case "api", "web", "other":
		return strings.ToLower(strings.TrimSpace(override))
	}

	if referer != "" && !strings.Contains(referer, "/api/") {
		return "web"
	}
	if strings.Contains(strings.ToLower(userAgent), "mozilla") {
		return "web"
	}
	return "api"
}

// Summarize aggregates the log over the last `days` calendar days. One
// bucket exists per day even when empty; unparseable lines and events
// outside the window are skipped. A missing or empty log yields an
// all-zero summary.
func (r *Recorder) Summarize(days int) (*models.UsageSummary, error) {
	if days <= 0 {
		days = 7
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windowStart := today.AddDate(0, 0, -(days - 1))

	buckets := make(map[string]*models.DayBucket, days)
	order := make([]string, 0, days)
	for i := 0; i < days; i++ {
		date := windowStart.AddDate(0, 0, i).Format("2006-01-02")
		buckets[date] = &models.DayBucket{Date: date}
		order = append(order, date)
	}

	summary := &models.UsageSummary{Days: days}
	formatCounts := make(map[string]int)

	file, err := os.Open(r.config.Path)
	if err == nil {
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var event models.UsageEvent
			if err := json.Unmarshal([]byte(line), &event); err != nil {
				r.logger.WithError(err).Debug("Skipping unparseable usage line")
				continue
			}

			bucket, ok := buckets[event.Timestamp.UTC().Format("2006-01-02")]
			if !ok {
				continue
			}
			bucket.Observe(event)
			summary.Totals.Observe(event)
			formatCounts[event.MediaFormat]++
		}
		if err := scanner.Err(); err != nil {
			r.logger.WithError(err).Warn("Usage log scan ended early")
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, date := range order {
		summary.Buckets = append(summary.Buckets, *buckets[date])
	}
	summary.TopFormats = topFormats(formatCounts, 3)
	return summary, nil
}

func topFormats(counts map[string]int, n int) []models.FormatCount {
	ranked := make([]models.FormatCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, models.FormatCount{MediaFormat: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].MediaFormat < ranked[j].MediaFormat
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
