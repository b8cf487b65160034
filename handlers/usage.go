package handlers

import (
	"github.com/gofiber/fiber/v2"
)

type UsageHandler struct {
	usage UsageRecorder
}

func NewUsageHandler(recorder UsageRecorder) *UsageHandler {
	return &UsageHandler{usage: recorder}
}

// Stats handles GET /stats/usage?days=
func (h *UsageHandler) Stats(c *fiber.Ctx) error {
	summary, err := h.usage.Summarize(c.QueryInt("days", 7))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": summary})
}
