// Package handlers exposes the engine behind Fiber request handlers.
// Interfaces for the services live here, next to their use.
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mediagrab/errors"
	"mediagrab/formats"
	"mediagrab/models"
)

type Extractor interface {
	Probe(ctx context.Context, url string) (*models.Metadata, error)
	Search(ctx context.Context, query string, limit int) ([]models.Candidate, error)
	Download(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error)
}

type Recoder interface {
	Process(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error)
	ConvertUpload(ctx context.Context, inputPath string, profile formats.Profile) (string, error)
}

type Transcriber interface {
	EnsureReady() error
	GenerateFile(ctx context.Context, url string, profile formats.Profile) (string, *models.CacheEntry, bool, error)
	TranscribeUpload(ctx context.Context, audioPath string, profile formats.Profile) ([]byte, *models.TranscriptionStats, error)
}

type UsageRecorder interface {
	Record(event models.UsageEvent) error
	Summarize(days int) (*models.UsageSummary, error)
}

// ErrorHandler is Fiber's central error handler; it maps AppError codes
// onto structured JSON responses.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*errors.AppError); ok {
		code = e.Code
		message = e.Message
	} else if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"path":       c.Path(),
		"method":     c.Method(),
		"status":     code,
	}).WithError(err).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"success":    false,
		"error":      message,
		"request_id": requestID(c),
	})
}

func HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.Get("X-Request-ID")
}
