package controller

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"realtimechat/attachment"
	"realtimechat/errs"
)

func (h *Controller) AttachmentUpload(c *fiber.Ctx) error {
	contentType, data, err := formFile(c, "file", attachment.DefaultMaxSize)
	if err != nil {
		return failure(c, err)
	}

	ctx := c.UserContext()
	ref, err := h.attachments.Upload(ctx, caller(c), contentType, data)
	if err != nil {
		return failure(c, err)
	}
	url, err := h.attachments.Resolve(ctx, ref)
	if err != nil {
		return failure(c, err)
	}

	return success(c, fiber.Map{
		"ref": ref,
		"url": url,
	})
}

// AttachmentDownload serves a published blob. Paths are content addressed so
// responses may be cached forever.
func (h *Controller) AttachmentDownload(c *fiber.Ctx) error {
	rest := strings.Trim(c.Params("*"), "/")
	if rest == "" || strings.Contains(rest, "..") {
		return failure(c, errs.Validation("attachment path is malformed"))
	}

	blob, err := h.objects.Get(c.UserContext(), "attachments/"+rest)
	if err != nil {
		return failure(c, err)
	}

	c.Set(fiber.HeaderContentType, blob.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(blob.Data)
}
