// Package cache persists fingerprinted metadata and payload pairs on
// the local file system. Each entry is one payload file plus one JSON
// sidecar named after the fingerprint; validity is TTL based.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"mediagrab/errors"
	"mediagrab/models"
)

const DefaultTTL = 24 * time.Hour

type Config struct {
	Dir string
	TTL time.Duration
}

type Store struct {
	dir    string
	ttl    time.Duration
	logger *logrus.Logger
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "creating cache directory")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{
		dir:    cfg.Dir,
		ttl:    ttl,
		logger: logrus.StandardLogger(),
	}, nil
}

func (s *Store) Dir() string        { return s.dir }
func (s *Store) TTL() time.Duration { return s.ttl }

// ComputeKey derives the deterministic cache fingerprint for a logical
// (url, format) request. Inputs are trimmed and lowercased first so
// equivalent requests always land on the same entry.
func ComputeKey(url, format string) string {
	url = strings.ToLower(strings.TrimSpace(url))
	format = strings.ToLower(strings.TrimSpace(format))
	sum := sha256.Sum256([]byte(url + "::" + format))
	return hex.EncodeToString(sum[:])
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) legacyPath(key string) string {
	return filepath.Join(s.dir, key)
}

// PayloadPath resolves the on-disk location of an entry's payload file.
func (s *Store) PayloadPath(entry *models.CacheEntry) string {
	return filepath.Join(s.dir, entry.Filename)
}

// Load reads the metadata sidecar for key, migrating from the legacy
// flat layout when needed. A miss returns (nil, nil).
func (s *Store) Load(key string) (*models.CacheEntry, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if os.IsNotExist(err) {
		if migrated, mErr := s.migrateLegacy(key); mErr != nil || !migrated {
			return nil, mErr
		}
		data, err = os.ReadFile(s.metaPath(key))
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "reading cache metadata")
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding cache metadata")
	}
	return &entry, nil
}

// Put writes the metadata sidecar atomically (temp file plus rename) so
// a concurrent reader never observes a partial record.
func (s *Store) Put(key string, entry *models.CacheEntry) error {
	entry.Fingerprint = key
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "encoding cache metadata")
	}

	tmp := s.metaPath(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pkgerrors.Wrap(err, "writing cache metadata")
	}
	if err := os.Rename(tmp, s.metaPath(key)); err != nil {
		os.Remove(tmp)
		return pkgerrors.Wrap(err, "committing cache metadata")
	}
	return nil
}

// Delete removes an entry's payload, sidecar and any legacy record. It
// is idempotent: already-missing files are not an error.
func (s *Store) Delete(key string) error {
	if entry, err := s.Load(key); err == nil && entry != nil && entry.Filename != "" {
		if err := os.Remove(s.PayloadPath(entry)); err != nil && !os.IsNotExist(err) {
			return pkgerrors.Wrap(err, "removing cache payload")
		}
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, "removing cache metadata")
	}
	if err := os.Remove(s.legacyPath(key)); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, "removing legacy cache record")
	}
	return nil
}

func (s *Store) IsExpired(entry *models.CacheEntry) bool {
	return time.Since(time.Unix(entry.DownloadedAt, 0)) > s.ttl
}

// FetchCached returns the payload path and metadata for a live entry.
// Stale records, records without a filename and records whose payload
// has gone missing are evicted on observation.
func (s *Store) FetchCached(key string) (string, *models.CacheEntry, error) {
	const op = "Store.FetchCached"

	entry, err := s.Load(key)
	if err != nil {
		return "", nil, err
	}
	if entry == nil {
		return "", nil, errors.NotFound(op, nil, "cache entry not found")
	}

	if entry.Filename == "" || s.IsExpired(entry) {
		s.evict(key, "stale or incomplete entry")
		return "", nil, errors.NotFound(op, nil, "cache entry not found")
	}

	path := s.PayloadPath(entry)
	if _, err := os.Stat(path); err != nil {
		s.evict(key, "payload missing")
		return "", nil, errors.NotFound(op, nil, "cache entry not found")
	}

	return path, entry, nil
}

func (s *Store) evict(key, reason string) {
	if err := s.Delete(key); err != nil {
		s.logger.WithError(err).WithField("fingerprint", key).Warn("Failed to evict cache entry")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"fingerprint": key,
		"reason":      reason,
	}).Info("Evicted cache entry")
}

// PurgeExpired sweeps the whole cache directory, evicting expired and
// orphaned entries. Failures on individual entries are logged and
// skipped; the sweep itself never aborts early.
func (s *Store) PurgeExpired() (int, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "listing cache directory")
	}

	// Migrate leftover legacy records first so the sidecar pass below
	// sees the whole cache in one layout.
	for _, f := range files {
		if !f.IsDir() && !strings.Contains(f.Name(), ".") {
			if _, err := s.migrateLegacy(f.Name()); err != nil {
				s.logger.WithError(err).WithField("record", f.Name()).Warn("Skipping legacy record during purge")
			}
		}
	}

	files, err = os.ReadDir(s.dir)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "listing cache directory")
	}

	live := make(map[string]*models.CacheEntry)
	removed := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")

		entry, err := s.Load(key)
		if err != nil {
			s.logger.WithError(err).WithField("fingerprint", key).Warn("Skipping unreadable cache entry")
			continue
		}
		if entry == nil {
			continue
		}

		path := s.PayloadPath(entry)
		_, statErr := os.Stat(path)
		if entry.Filename == "" || s.IsExpired(entry) || statErr != nil {
			if err := s.Delete(key); err != nil {
				s.logger.WithError(err).WithField("fingerprint", key).Warn("Failed to purge cache entry")
				continue
			}
			removed++
			continue
		}
		live[entry.Filename] = entry
	}

	// Payload files without a live sidecar are orphans.
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") || !strings.Contains(name, ".") {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			if !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("file", name).Warn("Failed to remove orphaned payload")
			}
			continue
		}
		removed++
	}

	return removed, nil
}

// List returns metadata and payload sizes for all live entries.
func (s *Store) List() ([]EntryInfo, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listing cache directory")
	}

	var infos []EntryInfo
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")

		path, entry, err := s.FetchCached(key)
		if err != nil {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, EntryInfo{Entry: entry, Size: stat.Size()})
	}
	return infos, nil
}

type EntryInfo struct {
	Entry *models.CacheEntry
	Size  int64
}

// migrateLegacy rewrites one record from the old flat layout (metadata
// stored at <dir>/<fingerprint> with no extension) under the sidecar
// layout and removes the old record. Re-running after a migration is a
// no-op, so concurrent readers may race it safely.
func (s *Store) migrateLegacy(key string) (bool, error) {
	data, err := os.ReadFile(s.legacyPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "reading legacy cache record")
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, pkgerrors.Wrap(err, "decoding legacy cache record")
	}

	if _, err := os.Stat(s.metaPath(key)); os.IsNotExist(err) {
		if err := s.Put(key, &entry); err != nil {
			return false, err
		}
	}
	if err := os.Remove(s.legacyPath(key)); err != nil && !os.IsNotExist(err) {
		return false, pkgerrors.Wrap(err, "removing legacy cache record")
	}

	s.logger.WithField("fingerprint", key).Info("Migrated legacy cache record")
	return true, nil
}
