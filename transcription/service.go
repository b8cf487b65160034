// Package transcription converts audio to text, JSON or SRT through a
// prioritized provider chain with response normalization.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mediagrab/cache"
	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
)

// Sourcer fetches the low-bitrate audio input for a URL transcription.
type Sourcer interface {
	Download(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error)
}

// Archiver receives finished transcriptions for best-effort off-box
// archival. Optional; failures are logged, never surfaced.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

type Config struct {
	Timeout time.Duration
}

type Service struct {
	config    Config
	store     *cache.Store
	source    Sourcer
	providers []Provider
	archiver  Archiver
	logger    *logrus.Logger
}

func NewService(cfg Config, store *cache.Store, source Sourcer, providers []Provider, archiver Archiver) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &Service{
		config:    cfg,
		store:     store,
		source:    source,
		providers: providers,
		archiver:  archiver,
		logger:    logrus.StandardLogger(),
	}
}

// EnsureReady fails fast when no provider is configured.
func (s *Service) EnsureReady() error {
	const op = "Service.EnsureReady"

	if len(s.providers) == 0 {
		return errors.Configuration(op, nil, "No transcription provider configured")
	}
	return nil
}

// Transcribe tries each configured provider in priority order and
// returns the first normalized payload. When every provider fails the
// error aggregates each provider's message.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptionPayload, error) {
	const op = "Service.Transcribe"

	if err := s.EnsureReady(); err != nil {
		return nil, err
	}

	var failures []string
	for _, provider := range s.providers {
		payload, err := provider.Transcribe(ctx, audioPath)
		if err != nil {
			s.logger.WithError(err).WithField("provider", provider.Name()).Warn("Transcription provider failed")
			failures = append(failures, fmt.Sprintf("%s: %v", provider.Name(), err))
			continue
		}
		return payload, nil
	}

	return nil, errors.Acquisition(op, nil,
		"All transcription providers failed: "+strings.Join(failures, "; "))
}

// GenerateFile resolves (url, format) to a rendered transcript file in
// the cache, acquiring and transcribing the audio on a miss. The work
// runs detached from the request context so a disconnect never wastes a
// finished transcription.
func (s *Service) GenerateFile(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	const op = "Service.GenerateFile"

	key := cache.ComputeKey(url, profile.Name)
	if path, entry, err := s.store.FetchCached(key); err == nil {
		return path, entry, true, nil
	}

	audioPath, audioEntry, _, err := s.source.Download(ctx, url, formats.TranscribeSource())
	if err != nil {
		return "", nil, false, err
	}

	workCtx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	payload, err := s.Transcribe(workCtx, audioPath)
	if err != nil {
		return "", nil, false, err
	}

	rendered, err := Render(payload, profile.Render)
	if err != nil {
		return "", nil, false, err
	}

	output := filepath.Join(s.store.Dir(), key+"."+profile.Ext)
	if err := os.WriteFile(output, rendered, 0o644); err != nil {
		return "", nil, false, errors.Internal(op, err, "Failed to write transcript file")
	}

	stats := EstimateStats(payload)
	entry := &models.CacheEntry{
		Title:        audioEntry.Title,
		Filename:     filepath.Base(output),
		SourceURL:    url,
		MediaFormat:  profile.Name,
		DownloadedAt: time.Now().Unix(),
		Extra:        models.EntryExtra{Stats: &stats},
	}
	if err := s.store.Put(key, entry); err != nil {
		return "", nil, false, errors.Internal(op, err, "Failed to persist cache entry")
	}

	s.archive(workCtx, key, payload)

	s.logger.WithFields(logrus.Fields{
		"url":         url,
		"format":      profile.Name,
		"words":       stats.WordCount,
		"fingerprint": key,
	}).Info("Transcription completed")
	return output, entry, false, nil
}

// TranscribeUpload transcribes a client-supplied audio file and renders
// it directly, bypassing the cache.
func (s *Service) TranscribeUpload(ctx context.Context, audioPath string, profile formats.Profile) ([]byte, *models.TranscriptionStats, error) {
	payload, err := s.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, nil, err
	}

	rendered, err := Render(payload, profile.Render)
	if err != nil {
		return nil, nil, err
	}

	stats := EstimateStats(payload)
	return rendered, &stats, nil
}

func (s *Service) archive(ctx context.Context, key string, payload *models.TranscriptionPayload) {
	if s.archiver == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode transcription for archive")
		return
	}
	if err := s.archiver.Archive(ctx, key, data); err != nil {
		s.logger.WithError(err).WithField("fingerprint", key).Warn("Failed to archive transcription")
	}
}
