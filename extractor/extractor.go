// Package extractor acquires media from external URLs through the
// yt-dlp binary: metadata probes, search, and cached downloads with a
// single proxy-fallback retry.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mediagrab/cache"
	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
)

type Config struct {
	BinPath         string
	Proxy           string
	CookiesPath     string
	UserAgent       string
	Retries         int
	ProbeTimeout    time.Duration
	SearchTimeout   time.Duration
	DownloadTimeout time.Duration
	ThrottleEvery   time.Duration
	ThrottleBurst   int
}

// runFunc is the subprocess seam; tests swap it out.
type runFunc func(ctx context.Context, args []string) (stdout []byte, stderr string, err error)

type Client struct {
	config  Config
	store   *cache.Store
	limiter *rate.Limiter
	logger  *logrus.Logger
	run     runFunc
}

func NewClient(cfg Config, store *cache.Store) *Client {
	if cfg.BinPath == "" {
		cfg.BinPath = "yt-dlp"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 45 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 15 * time.Minute
	}
	if cfg.ThrottleEvery <= 0 {
		cfg.ThrottleEvery = time.Second
	}
	if cfg.ThrottleBurst <= 0 {
		cfg.ThrottleBurst = 3
	}

	client := &Client{
		config:  cfg,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(cfg.ThrottleEvery), cfg.ThrottleBurst),
		logger:  logrus.StandardLogger(),
	}
	client.run = client.execRun
	return client
}

// probeInfo mirrors the fields we need from yt-dlp --dump-json output.
type probeInfo struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Duration  float64  `json:"duration"`
	Uploader  string   `json:"uploader"`
	Extractor string   `json:"extractor_key"`
	Thumbnail string   `json:"thumbnail"`
	Tags      []string `json:"tags"`
	Ext       string   `json:"ext"`
	URL       string   `json:"webpage_url"`
}

// Probe fetches metadata for a URL without downloading any payload.
func (c *Client) Probe(ctx context.Context, url string) (*models.Metadata, error) {
	const op = "Client.Probe"

	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	args := append(c.commonArgs(true), "--dump-json", "--skip-download", url)
	stdout, stderr, err := c.throttledRun(ctx, args)
	if err != nil {
		return nil, errors.Acquisition(op, fmt.Errorf("%v: %s", err, stderr), "Failed to probe URL")
	}

	var info probeInfo
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &info); err != nil {
		return nil, errors.Acquisition(op, err, "Failed to parse probe output")
	}

	return &models.Metadata{
		Title:     info.Title,
		Duration:  info.Duration,
		Uploader:  info.Uploader,
		Extractor: info.Extractor,
		Thumbnail: info.Thumbnail,
		Tags:      info.Tags,
	}, nil
}

// Search runs a provider search and returns up to limit candidates.
// Queries shorter than 3 characters are rejected; limit is clamped to
// [1, 25] by the caller's validator, and defensively here as well.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	const op = "Client.Search"

	query = strings.TrimSpace(query)
	if len(query) < 3 {
		return nil, errors.InvalidInput(op, nil, "Query must be at least 3 characters")
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 25 {
		limit = 25
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	target := fmt.Sprintf("ytsearch%d:%s", limit, query)
	args := append(c.commonArgs(true), "--dump-json", "--flat-playlist", target)
	stdout, stderr, err := c.throttledRun(ctx, args)
	if err != nil {
		return nil, errors.Acquisition(op, fmt.Errorf("%v: %s", err, stderr), "Search failed")
	}

	var candidates []models.Candidate
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var info probeInfo
		if err := json.Unmarshal(line, &info); err != nil {
			c.logger.WithError(err).Warn("Skipping unparseable search result")
			continue
		}
		candidates = append(candidates, models.Candidate{
			ID:       info.ID,
			Title:    info.Title,
			URL:      info.URL,
			Uploader: info.Uploader,
			Duration: info.Duration,
		})
	}
	return candidates, nil
}

// Download resolves (url, profile) to a cached payload file. On a miss
// it invokes yt-dlp with the profile's stream selector and persists the
// result. If the failure text points at a proxy, geo or forbidden
// condition while a proxy was active, the download is retried exactly
// once with the proxy disabled; every other failure is terminal here.
//
// The inbound context is deliberately not propagated: a client
// disconnect must not abort an acquisition whose result future
// requests can reuse.
func (c *Client) Download(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	const op = "Client.Download"

	key := cache.ComputeKey(url, profile.Name)
	if path, entry, err := c.store.FetchCached(key); err == nil {
		return path, entry, true, nil
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.config.DownloadTimeout)
	defer cancel()

	useProxy := c.config.Proxy != ""
	var info probeInfo

	for attempt := 0; ; attempt++ {
		stdout, stderr, err := c.runDownload(runCtx, url, profile, key, useProxy)
		if err == nil {
			if jErr := json.Unmarshal(lastJSONLine(stdout), &info); jErr != nil {
				c.logger.WithError(jErr).Warn("Could not parse download metadata")
			}
			break
		}

		failure := strings.ToLower(err.Error() + " " + stderr)
		if attempt == 0 && useProxy && looksLikeProxyFailure(failure) {
			c.logger.WithFields(logrus.Fields{
				"url":    url,
				"format": profile.Name,
			}).Warn("Proxy download failed, retrying once without proxy")
			useProxy = false
			continue
		}
		return "", nil, false, errors.Acquisition(op, fmt.Errorf("%v: %s", err, stderr), "Media extraction failed")
	}

	path, err := c.resolveOutput(key, info.Ext, profile.Ext)
	if err != nil {
		return "", nil, false, err
	}

	entry := &models.CacheEntry{
		Title:        info.Title,
		Filename:     filepath.Base(path),
		SourceURL:    url,
		MediaFormat:  profile.Name,
		DownloadedAt: time.Now().Unix(),
	}
	if err := c.store.Put(key, entry); err != nil {
		return "", nil, false, errors.Internal(op, err, "Failed to persist cache entry")
	}

	c.logger.WithFields(logrus.Fields{
		"url":         url,
		"format":      profile.Name,
		"fingerprint": key,
	}).Info("Download completed")
	return path, entry, false, nil
}

func (c *Client) runDownload(ctx context.Context, url string, profile formats.Profile, key string, useProxy bool) ([]byte, string, error) {
	output := filepath.Join(c.store.Dir(), key+".%(ext)s")
	args := append(c.commonArgs(useProxy),
		"--print-json",
		"-f", profile.Selector,
		"-o", output,
		url,
	)
	return c.throttledRun(ctx, args)
}

// resolveOutput maps a finished download back to a concrete file. The
// extraction must always end in an existing payload or fail outright.
func (c *Client) resolveOutput(key, reportedExt, fallbackExt string) (string, error) {
	const op = "Client.resolveOutput"

	for _, ext := range []string{reportedExt, fallbackExt} {
		if ext == "" {
			continue
		}
		path := filepath.Join(c.store.Dir(), key+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	matches, _ := filepath.Glob(filepath.Join(c.store.Dir(), key+".*"))
	for _, match := range matches {
		if strings.HasSuffix(match, ".json") || strings.HasSuffix(match, ".tmp") {
			continue
		}
		return match, nil
	}

	return "", errors.Acquisition(op, nil, "Extraction produced no output file")
}

func (c *Client) throttledRun(ctx context.Context, args []string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	return c.run(ctx, args)
}

func (c *Client) execRun(ctx context.Context, args []string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, c.config.BinPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

func (c *Client) commonArgs(useProxy bool) []string {
	args := []string{"--no-warnings", "--no-progress"}
	if c.config.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(c.config.Retries))
	}
	if useProxy && c.config.Proxy != "" {
		args = append(args, "--proxy", c.config.Proxy)
	}
	if c.config.CookiesPath != "" {
		args = append(args, "--cookies", c.config.CookiesPath)
	}
	if c.config.UserAgent != "" {
		args = append(args, "--user-agent", c.config.UserAgent)
	}
	return args
}

func looksLikeProxyFailure(failure string) bool {
	for _, marker := range []string{"proxy", "403", "forbidden"} {
		if strings.Contains(failure, marker) {
			return true
		}
	}
	return false
}

func lastJSONLine(output []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return nil
}
