package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"mediagrab/cache"
	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
	"mediagrab/validation"
)

type stubExtractor struct {
	dir     string
	calls   int
	entries map[string]*models.CacheEntry
}

func (e *stubExtractor) Probe(ctx context.Context, url string) (*models.Metadata, error) {
	e.calls++
	return &models.Metadata{Title: "A Clip", Duration: 42}, nil
}

func (e *stubExtractor) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	e.calls++
	return []models.Candidate{{ID: "a1", Title: "First"}}, nil
}

func (e *stubExtractor) Download(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	e.calls++
	key := cache.ComputeKey(url, profile.Name)
	path := filepath.Join(e.dir, key+"."+profile.Ext)

	if entry, ok := e.entries[key]; ok {
		return path, entry, true, nil
	}

	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		return "", nil, false, err
	}
	entry := &models.CacheEntry{
		Fingerprint:  key,
		Title:        "A Clip",
		Filename:     filepath.Base(path),
		SourceURL:    url,
		MediaFormat:  profile.Name,
		DownloadedAt: time.Now().Unix(),
	}
	if e.entries == nil {
		e.entries = make(map[string]*models.CacheEntry)
	}
	e.entries[key] = entry
	return path, entry, false, nil
}

type stubRecoder struct{ err error }

func (r *stubRecoder) Process(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	return "", nil, false, r.err
}

func (r *stubRecoder) ConvertUpload(ctx context.Context, inputPath string, profile formats.Profile) (string, error) {
	return "", r.err
}

type stubTranscriber struct{ err error }

func (t *stubTranscriber) EnsureReady() error { return t.err }

func (t *stubTranscriber) GenerateFile(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error) {
	return "", nil, false, t.err
}

func (t *stubTranscriber) TranscribeUpload(ctx context.Context, audioPath string, profile formats.Profile) ([]byte, *models.TranscriptionStats, error) {
	return nil, nil, t.err
}

type stubRecorder struct{ events []models.UsageEvent }

func (r *stubRecorder) Record(ev models.UsageEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *stubRecorder) Summarize(days int) (*models.UsageSummary, error) {
	return &models.UsageSummary{Days: days}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newMediaApp(t *testing.T) (*fiber.App, *stubExtractor, *stubRecorder) {
	t.Helper()

	ext := &stubExtractor{dir: t.TempDir()}
	recorder := &stubRecorder{}
	notReady := fmt.Errorf("not under test")
	handler := NewMediaHandler(ext, &stubRecoder{err: notReady}, &stubTranscriber{err: notReady},
		recorder, validation.NewValidator())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/probe", handler.Probe)
	app.Get("/search", handler.Search)
	app.Get("/download", handler.Download)
	return app, ext, recorder
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	return env
}

func TestDownloadTwiceHitsCache(t *testing.T) {
	app, ext, recorder := newMediaApp(t)

	url := "/download?url=https://example.com/v&format=video_low"
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "payload" {
			t.Errorf("request %d: body %q", i, body)
		}
	}

	if ext.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", ext.calls)
	}
	if len(recorder.events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(recorder.events))
	}
	if recorder.events[0].CacheHit {
		t.Error("first download must record a cache miss")
	}
	if !recorder.events[1].CacheHit {
		t.Error("second download must record a cache hit")
	}
	for i, ev := range recorder.events {
		if ev.MediaFormat != "video_low" {
			t.Errorf("event %d format = %q", i, ev.MediaFormat)
		}
	}
}

func TestDownloadRejectsUnknownFormat(t *testing.T) {
	app, ext, recorder := newMediaApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/download?url=https://example.com/v&format=blu-ray-4k", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Success {
		t.Error("error response must have success=false")
	}
	if ext.calls != 0 {
		t.Error("unknown format must be rejected before any acquisition work")
	}
	if len(recorder.events) != 0 {
		t.Error("rejected request must not record usage")
	}
}

func TestDownloadRejectsBadURL(t *testing.T) {
	app, ext, _ := newMediaApp(t)

	for _, target := range []string{
		"/download",
		"/download?url=ftp://example.com/v",
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("request %q: %v", target, err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", target, resp.StatusCode)
		}
		resp.Body.Close()
	}
	if ext.calls != 0 {
		t.Error("bad URLs must be rejected before any acquisition work")
	}
}

func TestDownloadSourceInference(t *testing.T) {
	app, _, recorder := newMediaApp(t)

	req := httptest.NewRequest(http.MethodGet, "/download?url=https://example.com/v", nil)
	req.Header.Set(fiber.HeaderReferer, "https://app.example.com/ui")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/download?url=https://example.com/v", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request: %v", err)
	}

	if len(recorder.events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(recorder.events))
	}
	if recorder.events[0].Source != "web" {
		t.Errorf("browser-like request source = %q, want web", recorder.events[0].Source)
	}
	if recorder.events[1].Source != "api" {
		t.Errorf("bare request source = %q, want api", recorder.events[1].Source)
	}
}

func TestProbe(t *testing.T) {
	app, _, _ := newMediaApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/probe?url=https://example.com/v", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Error("expected success=true")
	}
	var meta models.Metadata
	if err := json.Unmarshal(env.Data, &meta); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if meta.Title != "A Clip" {
		t.Errorf("title = %q", meta.Title)
	}
}

func TestSearchValidation(t *testing.T) {
	app, ext, _ := newMediaApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/search?query=ab", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short query: status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
	if ext.calls != 0 {
		t.Error("short query must not reach the extractor")
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/search?query=lofi+beats", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid query: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func newCacheApp(t *testing.T) (*fiber.App, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(cache.Config{Dir: t.TempDir(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	handler := NewCacheHandler(store)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/cache", handler.List)
	app.Get("/cache/:key/download", handler.Download)
	app.Delete("/cache/:key", handler.Delete)
	return app, store
}

func TestCacheEndpoints(t *testing.T) {
	app, store := newCacheApp(t)

	key := cache.ComputeKey("https://example.com/v", "video_best")
	if err := os.WriteFile(filepath.Join(store.Dir(), key+".mp4"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	store.Put(key, &models.CacheEntry{
		Title:        "A Clip",
		Filename:     key + ".mp4",
		SourceURL:    "https://example.com/v",
		MediaFormat:  "video_best",
		DownloadedAt: time.Now().Unix(),
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/cache", nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Fatal("list should succeed")
	}
	var views []cacheEntryView
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(views) != 1 || views[0].Fingerprint != key || views[0].SizeBytes != 7 {
		t.Errorf("unexpected listing: %+v", views)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/cache/"+key+"/download", nil))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "payload" {
		t.Errorf("download: status=%d body=%q", resp.StatusCode, body)
	}

	// Delete twice; both are 204.
	for i := 0; i < 2; i++ {
		resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/cache/"+key, nil))
		if err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete %d: status = %d, want 204", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/cache/"+key+"/download", nil))
	if err != nil {
		t.Fatalf("download after delete: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("download after delete: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestErrorHandlerMapping(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return errors.NotFound("test", nil, "No cached entry for this key")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fmt.Errorf("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Success || env.Error != "No cached entry for this key" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Error != "Internal Server Error" {
		t.Errorf("raw error must not leak: %+v", env)
	}
}

func TestAttachmentName(t *testing.T) {
	profile, _ := formats.Lookup("video_best")

	entry := &models.CacheEntry{Title: "My Clip: Part 1/2", Filename: "abc.mp4"}
	if got := attachmentName(entry, profile); got != "My Clip_ Part 1_2.mp4" {
		t.Errorf("attachmentName = %q", got)
	}

	entry = &models.CacheEntry{Title: "   ", Filename: "abc.mp4"}
	if got := attachmentName(entry, profile); got != "abc.mp4" {
		t.Errorf("empty title should fall back to the filename, got %q", got)
	}
}
