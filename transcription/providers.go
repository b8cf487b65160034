package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediagrab/models"
)

// Provider is one interchangeable transcription backend. Providers are
// tried in fixed priority order by the service.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (*models.TranscriptionPayload, error)
}

// rawResponse covers the JSON shapes providers actually return: a bare
// text field, or a rich verbose payload with segments.
type rawResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// normalizeResponse folds a provider's native response body into the
// one common payload shape. Non-JSON bodies are taken as plain text.
func normalizeResponse(body []byte) *models.TranscriptionPayload {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return &models.TranscriptionPayload{Text: strings.TrimSpace(string(body))}
	}

	payload := &models.TranscriptionPayload{Text: strings.TrimSpace(raw.Text)}
	for _, seg := range raw.Segments {
		payload.Segments = append(payload.Segments, models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return payload
}

type HostedConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HostedProvider calls an OpenAI-compatible hosted transcription API.
type HostedProvider struct {
	config HostedConfig
	client *http.Client
}

func NewHostedProvider(cfg HostedConfig) *HostedProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HostedProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *HostedProvider) Name() string { return "hosted" }

func (p *HostedProvider) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptionPayload, error) {
	body, contentType, err := buildAudioForm(audioPath, map[string]string{
		"model":           p.config.Model,
		"response_format": "verbose_json",
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	return doTranscribeRequest(p.client, req)
}

type LocalConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// LocalProvider calls a self-hosted ASR HTTP endpoint (whisper-server
// style: multipart file in, text or JSON out).
type LocalProvider struct {
	config LocalConfig
	client *http.Client
}

func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &LocalProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Transcribe(ctx context.Context, audioPath string) (*models.TranscriptionPayload, error) {
	body, contentType, err := buildAudioForm(audioPath, map[string]string{
		"response_format": "json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	return doTranscribeRequest(p.client, req)
}

func buildAudioForm(audioPath string, fields map[string]string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("reading audio file: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}

func doTranscribeRequest(client *http.Client, req *http.Request) (*models.TranscriptionPayload, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	payload := normalizeResponse(body)
	if payload.Text == "" && len(payload.Segments) == 0 {
		return nil, fmt.Errorf("provider returned an empty transcription")
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
