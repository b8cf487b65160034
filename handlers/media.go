package handlers

import (
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mediagrab/formats"
	"mediagrab/models"
	"mediagrab/usage"
	"mediagrab/validation"
)

type MediaHandler struct {
	extractor   Extractor
	recoder     Recoder
	transcriber Transcriber
	usage       UsageRecorder
	validator   *validation.Validator
	logger      *logrus.Logger
}

func NewMediaHandler(
	extractor Extractor,
	recoder Recoder,
	transcriber Transcriber,
	recorder UsageRecorder,
	validator *validation.Validator,
) *MediaHandler {
	return &MediaHandler{
		extractor:   extractor,
		recoder:     recoder,
		transcriber: transcriber,
		usage:       recorder,
		validator:   validator,
		logger:      logrus.StandardLogger(),
	}
}

// Probe handles GET /probe?url=
func (h *MediaHandler) Probe(c *fiber.Ctx) error {
	url := c.Query("url")
	if err := h.validator.ValidateURL(url); err != nil {
		return err
	}

	meta, err := h.extractor.Probe(c.Context(), url)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": meta})
}

// Search handles GET /search?query=&limit=
func (h *MediaHandler) Search(c *fiber.Ctx) error {
	query, limit, err := h.validator.ValidateQuery(c.Query("query"), c.QueryInt("limit", 10))
	if err != nil {
		return err
	}

	candidates, err := h.extractor.Search(c.Context(), query, limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": candidates})
}

// Download handles GET /download?url=&format=. The format decides which
// pipeline runs; all of them resolve through the cache first.
func (h *MediaHandler) Download(c *fiber.Ctx) error {
	url := c.Query("url")
	if err := h.validator.ValidateURL(url); err != nil {
		return err
	}

	profile, err := h.validator.ValidateFormat(c.Query("format", formats.Default().Name))
	if err != nil {
		return err
	}

	var (
		path  string
		entry *models.CacheEntry
		hit   bool
	)
	switch profile.Kind {
	case formats.KindRecode:
		path, entry, hit, err = h.recoder.Process(c.Context(), url, profile)
	case formats.KindTranscribe:
		path, entry, hit, err = h.transcriber.GenerateFile(c.Context(), url, profile)
	default:
		path, entry, hit, err = h.extractor.Download(c.Context(), url, profile)
	}
	if err != nil {
		return err
	}

	h.recordUsage(c, entry, hit)

	c.Set(fiber.HeaderContentType, profile.MIME)
	return c.Download(path, attachmentName(entry, profile))
}

func (h *MediaHandler) recordUsage(c *fiber.Ctx, entry *models.CacheEntry, hit bool) {
	event := models.UsageEvent{
		Timestamp:   time.Now().UTC(),
		MediaFormat: entry.MediaFormat,
		CacheHit:    hit,
		Source: usage.InferSource(
			c.Query("source"),
			c.Get(fiber.HeaderReferer),
			c.Get(fiber.HeaderUserAgent),
		),
	}
	if entry.Extra.Stats != nil {
		event.WordCount = entry.Extra.Stats.WordCount
		event.TokenCount = entry.Extra.Stats.TokenCount
	}

	if err := h.usage.Record(event); err != nil {
		h.logger.WithError(err).Warn("Failed to record usage event")
	}
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._ -]+`)

func attachmentName(entry *models.CacheEntry, profile formats.Profile) string {
	title := strings.TrimSpace(unsafeFilename.ReplaceAllString(entry.Title, "_"))
	if title == "" {
		return entry.Filename
	}
	return title + "." + profile.Ext
}
