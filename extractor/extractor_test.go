package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediagrab/cache"
	apperrors "mediagrab/errors"
	"mediagrab/formats"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	store, err := cache.NewStore(cache.Config{Dir: t.TempDir(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	// Keep the limiter out of the way for tests.
	cfg.ThrottleEvery = time.Microsecond
	cfg.ThrottleBurst = 100
	return NewClient(cfg, store)
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestProbe(t *testing.T) {
	client := newTestClient(t, Config{})
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		if !hasArg(args, "--skip-download") {
			t.Errorf("probe args missing --skip-download: %v", args)
		}
		return []byte(`{"title":"A Clip","duration":42.5,"uploader":"someone","extractor_key":"Youtube"}`), "", nil
	}

	meta, err := client.Probe(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Title != "A Clip" || meta.Duration != 42.5 || meta.Uploader != "someone" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestProbeFailure(t *testing.T) {
	client := newTestClient(t, Config{})
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		return nil, "ERROR: Unsupported URL", fmt.Errorf("exit status 1")
	}

	_, err := client.Probe(context.Background(), "https://example.com/v")
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != 502 {
		t.Fatalf("expected an acquisition error, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, Config{})
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		if !hasArg(args, "ytsearch5:lofi beats") {
			t.Errorf("search args missing search target: %v", args)
		}
		out := `{"id":"a1","title":"First","webpage_url":"https://example.com/a1"}
not json at all
{"id":"b2","title":"Second","webpage_url":"https://example.com/b2"}
`
		return []byte(out), "", nil
	}

	candidates, err := client.Search(context.Background(), "lofi beats", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ID != "a1" || candidates[1].ID != "b2" {
		t.Errorf("unexpected candidates: %+v", candidates)
	}
}

func TestSearchRejectsShortQuery(t *testing.T) {
	client := newTestClient(t, Config{})
	called := false
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		called = true
		return nil, "", nil
	}

	_, err := client.Search(context.Background(), " ab ", 5)
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if called {
		t.Error("short query must be rejected before any subprocess call")
	}
}

func TestSearchClampsLimit(t *testing.T) {
	client := newTestClient(t, Config{})
	var target string
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		target = args[len(args)-1]
		return nil, "", nil
	}

	if _, err := client.Search(context.Background(), "lofi", 500); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if target != "ytsearch25:lofi" {
		t.Errorf("limit not clamped: target %q", target)
	}
}

func TestDownloadProxyFallback(t *testing.T) {
	client := newTestClient(t, Config{Proxy: "http://proxy.internal:8080"})
	profile, _ := formats.Lookup("video_best")
	url := "https://example.com/v"
	key := cache.ComputeKey(url, profile.Name)

	var calls [][]string
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		calls = append(calls, args)
		if len(calls) == 1 {
			return nil, "ERROR: HTTP Error 403: Forbidden", fmt.Errorf("exit status 1")
		}
		payload := filepath.Join(client.store.Dir(), key+".mp4")
		if err := os.WriteFile(payload, []byte("video"), 0o644); err != nil {
			t.Fatalf("writing payload: %v", err)
		}
		return []byte(`{"title":"Clip","ext":"mp4"}`), "", nil
	}

	path, entry, hit, err := client.Download(context.Background(), url, profile)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if hit {
		t.Error("first download must be a cache miss")
	}
	if entry.Title != "Clip" || entry.MediaFormat != "video_best" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if filepath.Base(path) != key+".mp4" {
		t.Errorf("unexpected payload path %s", path)
	}

	if len(calls) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(calls))
	}
	if !hasArg(calls[0], "--proxy") {
		t.Error("first attempt should carry --proxy")
	}
	if hasArg(calls[1], "--proxy") {
		t.Error("retry must run with the proxy disabled")
	}
}

func TestDownloadNonProxyFailureIsTerminal(t *testing.T) {
	client := newTestClient(t, Config{Proxy: "http://proxy.internal:8080"})
	profile, _ := formats.Lookup("video_best")

	var calls int
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		calls++
		return nil, "ERROR: This video is unavailable", fmt.Errorf("exit status 1")
	}

	_, _, _, err := client.Download(context.Background(), "https://example.com/v", profile)
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != 502 {
		t.Fatalf("expected an acquisition error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retry for a non-proxy failure, got %d attempts", calls)
	}
}

func TestDownloadRetryFailureIsTerminal(t *testing.T) {
	client := newTestClient(t, Config{Proxy: "http://proxy.internal:8080"})
	profile, _ := formats.Lookup("video_best")

	var calls int
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		calls++
		return nil, "ERROR: HTTP Error 403: Forbidden", fmt.Errorf("exit status 1")
	}

	_, _, _, err := client.Download(context.Background(), "https://example.com/v", profile)
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 2 {
		t.Errorf("expected exactly one retry, got %d attempts", calls)
	}
}

func TestDownloadServedFromCache(t *testing.T) {
	client := newTestClient(t, Config{})
	profile, _ := formats.Lookup("video_best")
	url := "https://example.com/v"
	key := cache.ComputeKey(url, profile.Name)

	var calls int
	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		calls++
		payload := filepath.Join(client.store.Dir(), key+".mp4")
		os.WriteFile(payload, []byte("video"), 0o644)
		return []byte(`{"title":"Clip","ext":"mp4"}`), "", nil
	}

	if _, _, hit, err := client.Download(context.Background(), url, profile); err != nil || hit {
		t.Fatalf("first download: hit=%v err=%v", hit, err)
	}

	path, entry, hit, err := client.Download(context.Background(), url, profile)
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if !hit {
		t.Error("second download within TTL must be a cache hit")
	}
	if calls != 1 {
		t.Errorf("cache hit must not touch the binary, got %d calls", calls)
	}
	if entry.Title != "Clip" || filepath.Base(path) != key+".mp4" {
		t.Errorf("unexpected cached result: path=%s entry=%+v", path, entry)
	}
}

func TestDownloadOutputGlobFallback(t *testing.T) {
	client := newTestClient(t, Config{})
	profile, _ := formats.Lookup("video_best")
	url := "https://example.com/v"
	key := cache.ComputeKey(url, profile.Name)

	client.run = func(ctx context.Context, args []string) ([]byte, string, error) {
		// The binary merged into a container neither side predicted.
		payload := filepath.Join(client.store.Dir(), key+".mkv")
		os.WriteFile(payload, []byte("video"), 0o644)
		return []byte(`{"title":"Clip"}`), "", nil
	}

	path, _, _, err := client.Download(context.Background(), url, profile)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Ext(path) != ".mkv" {
		t.Errorf("expected glob-resolved output, got %s", path)
	}
}

func TestLooksLikeProxyFailure(t *testing.T) {
	tests := []struct {
		failure string
		want    bool
	}{
		{"error: http error 403: forbidden", true},
		{"unable to connect to proxy", true},
		{"access forbidden by upstream", true},
		{"this video is unavailable", false},
		{"exit status 1: network timeout", false},
	}
	for _, tt := range tests {
		if got := looksLikeProxyFailure(tt.failure); got != tt.want {
			t.Errorf("looksLikeProxyFailure(%q) = %v, want %v", tt.failure, got, tt.want)
		}
	}
}

func TestLastJSONLine(t *testing.T) {
	out := []byte("[download] 100%\n{\"a\":1}\n[info] done\n{\"title\":\"x\"}\n")
	if got := string(lastJSONLine(out)); got != `{"title":"x"}` {
		t.Errorf("lastJSONLine = %q", got)
	}
	if lastJSONLine([]byte("no json here")) != nil {
		t.Error("expected nil for output without JSON")
	}
}
