package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"mediagrab/cache"
)

type CacheHandler struct {
	store *cache.Store
}

func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

type cacheEntryView struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title,omitempty"`
	MediaFormat string `json:"media_format"`
	SourceURL   string `json:"source_url"`
	AgeSeconds  int64  `json:"age_seconds"`
	SizeBytes   int64  `json:"size_bytes"`
	DownloadURL string `json:"download_url"`
	DeleteURL   string `json:"delete_url"`
}

// List handles GET /cache
func (h *CacheHandler) List(c *fiber.Ctx) error {
	infos, err := h.store.List()
	if err != nil {
		return err
	}

	views := make([]cacheEntryView, 0, len(infos))
	for _, info := range infos {
		views = append(views, cacheEntryView{
			Fingerprint: info.Entry.Fingerprint,
			Title:       info.Entry.Title,
			MediaFormat: info.Entry.MediaFormat,
			SourceURL:   info.Entry.SourceURL,
			AgeSeconds:  int64(info.Entry.Age().Seconds()),
			SizeBytes:   info.Size,
			DownloadURL: fmt.Sprintf("/cache/%s/download", info.Entry.Fingerprint),
			DeleteURL:   fmt.Sprintf("/cache/%s", info.Entry.Fingerprint),
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": views})
}

// Download handles GET /cache/:key/download
func (h *CacheHandler) Download(c *fiber.Ctx) error {
	path, entry, err := h.store.FetchCached(c.Params("key"))
	if err != nil {
		return err
	}
	return c.Download(path, entry.Filename)
}

// Delete handles DELETE /cache/:key. Deletion is idempotent; deleting
// an absent key still succeeds.
func (h *CacheHandler) Delete(c *fiber.Ctx) error {
	if err := h.store.Delete(c.Params("key")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
