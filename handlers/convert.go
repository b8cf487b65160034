package handlers

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
	"mediagrab/usage"
	"mediagrab/validation"
)

type ConvertHandler struct {
	recoder     Recoder
	transcriber Transcriber
	usage       UsageRecorder
	validator   *validation.Validator
	tempDir     string
	logger      *logrus.Logger
}

func NewConvertHandler(
	recoder Recoder,
	transcriber Transcriber,
	recorder UsageRecorder,
	validator *validation.Validator,
	tempDir string,
) *ConvertHandler {
	return &ConvertHandler{
		recoder:     recoder,
		transcriber: transcriber,
		usage:       recorder,
		validator:   validator,
		tempDir:     tempDir,
		logger:      logrus.StandardLogger(),
	}
}

// ConvertUpload handles POST /convert/upload (multipart file + preset).
// The converted output only lives until the response has been sent;
// cleanup runs on every exit path.
func (h *ConvertHandler) ConvertUpload(c *fiber.Ctx) error {
	const op = "ConvertHandler.ConvertUpload"

	profile, err := h.validator.ValidateFormat(c.FormValue("preset"))
	if err != nil {
		return err
	}
	if profile.Kind != formats.KindRecode {
		return errors.InvalidInput(op, nil, "preset must name a re-encode format")
	}

	input, cleanup, err := h.saveUpload(c)
	if err != nil {
		return err
	}
	defer cleanup()

	output, err := h.recoder.ConvertUpload(c.Context(), input, profile)
	if err != nil {
		return err
	}
	defer os.Remove(output)

	data, err := os.ReadFile(output)
	if err != nil {
		return errors.Internal(op, err, "Failed to read converted file")
	}

	h.record(c, profile.Name, nil)

	c.Set(fiber.HeaderContentType, profile.MIME)
	c.Attachment("converted." + profile.Ext)
	return c.Send(data)
}

// TranscribeUpload handles POST /transcribe/upload (multipart file +
// format).
func (h *ConvertHandler) TranscribeUpload(c *fiber.Ctx) error {
	const op = "ConvertHandler.TranscribeUpload"

	profile, err := h.validator.ValidateFormat(c.FormValue("format", "transcript_txt"))
	if err != nil {
		return err
	}
	if profile.Kind != formats.KindTranscribe {
		return errors.InvalidInput(op, nil, "format must name a transcript format")
	}

	if err := h.transcriber.EnsureReady(); err != nil {
		return err
	}

	input, cleanup, err := h.saveUpload(c)
	if err != nil {
		return err
	}
	defer cleanup()

	rendered, stats, err := h.transcriber.TranscribeUpload(c.Context(), input, profile)
	if err != nil {
		return err
	}

	h.record(c, profile.Name, stats)

	c.Set(fiber.HeaderContentType, profile.MIME)
	c.Attachment("transcript." + profile.Ext)
	return c.Send(rendered)
}

func (h *ConvertHandler) saveUpload(c *fiber.Ctx) (string, func(), error) {
	const op = "ConvertHandler.saveUpload"

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return "", nil, errors.InvalidInput(op, err, "file is required")
	}

	input := filepath.Join(h.tempDir, uuid.New().String()+filepath.Ext(fileHeader.Filename))
	if err := c.SaveFile(fileHeader, input); err != nil {
		return "", nil, errors.Internal(op, err, "Failed to store uploaded file")
	}

	cleanup := func() {
		if err := os.Remove(input); err != nil && !os.IsNotExist(err) {
			h.logger.WithError(err).WithField("file", input).Warn("Failed to remove uploaded file")
		}
	}
	return input, cleanup, nil
}

func (h *ConvertHandler) record(c *fiber.Ctx, format string, stats *models.TranscriptionStats) {
	event := models.UsageEvent{
		Timestamp:   time.Now().UTC(),
		MediaFormat: format,
		Source: usage.InferSource(
			c.Query("source"),
			c.Get(fiber.HeaderReferer),
			c.Get(fiber.HeaderUserAgent),
		),
	}
	if stats != nil {
		event.WordCount = stats.WordCount
		event.TokenCount = stats.TokenCount
	}
	if err := h.usage.Record(event); err != nil {
		h.logger.WithError(err).Warn("Failed to record usage event")
	}
}
