// Package recode runs table-driven ffmpeg re-encode presets over a
// canonical cached source, plus a cache-free variant for uploaded
// files. Presets are pure data; the pipeline never branches on them.
package recode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediagrab/cache"
	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
)

// Sourcer supplies the canonical high-quality input for a preset run.
type Sourcer interface {
	Download(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error)
}

type Config struct {
	BinPath string
	Timeout time.Duration
	TempDir string
}

type runFunc func(ctx context.Context, args []string) (stderr string, err error)

type Pipeline struct {
	config Config
	store  *cache.Store
	source Sourcer
	logger *logrus.Logger
	run    runFunc
}

func NewPipeline(cfg Config, store *cache.Store, source Sourcer) (*Pipeline, error) {
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	p := &Pipeline{
		config: cfg,
		store:  store,
		source: source,
		logger: logrus.StandardLogger(),
	}
	p.run = p.execRun
	return p, nil
}

// Process resolves (url, preset) to a re-encoded payload, acquiring the
// canonical source first when the cache misses. Like extraction, the
// transcode itself runs detached from the request context so its result
// is cached even if the client goes away.
func (p *Pipeline) Process(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	const op = "Pipeline.Process"

	key := cache.ComputeKey(url, profile.Name)
	if path, entry, err := p.store.FetchCached(key); err == nil {
		return path, entry, true, nil
	}

	srcPath, srcEntry, _, err := p.source.Download(ctx, url, formats.Default())
	if err != nil {
		return "", nil, false, err
	}

	output := filepath.Join(p.store.Dir(), key+"."+profile.Ext)
	if err := p.transcode(srcPath, output, profile); err != nil {
		return "", nil, false, err
	}

	entry := &models.CacheEntry{
		Title:        srcEntry.Title,
		Filename:     filepath.Base(output),
		SourceURL:    url,
		MediaFormat:  profile.Name,
		DownloadedAt: time.Now().Unix(),
		Extra:        models.EntryExtra{Preset: profile.Name},
	}
	if err := p.store.Put(key, entry); err != nil {
		return "", nil, false, errors.Internal(op, err, "Failed to persist cache entry")
	}

	p.logger.WithFields(logrus.Fields{
		"url":         url,
		"preset":      profile.Name,
		"fingerprint": key,
	}).Info("Re-encode completed")
	return output, entry, false, nil
}

// ConvertUpload re-encodes a client-supplied file synchronously with no
// cache involvement. The caller owns the returned file and must remove
// it once the response has been sent.
func (p *Pipeline) ConvertUpload(ctx context.Context, inputPath string, profile formats.Profile) (string, error) {
	output := filepath.Join(p.config.TempDir, uuid.New().String()+"."+profile.Ext)
	if err := p.transcode(inputPath, output, profile); err != nil {
		return "", err
	}
	return output, nil
}

func (p *Pipeline) transcode(input, output string, profile formats.Profile) error {
	const op = "Pipeline.transcode"

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	args := append([]string{"-y", "-i", input}, profile.Args...)
	args = append(args, output)

	stderr, err := p.run(ctx, args)
	if err != nil {
		os.Remove(output)
		return errors.Acquisition(op, fmt.Errorf("%v: %s", err, stderr), "Re-encoding failed")
	}

	if _, err := os.Stat(output); err != nil {
		return errors.Acquisition(op, err, "Re-encoding produced no output file")
	}
	return nil
}

func (p *Pipeline) execRun(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, p.config.BinPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stderr.String(), err
}
