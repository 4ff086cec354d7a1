package handlers

import (
	"mime"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/duochat/internal/errs"
)

// UploadChunkHandler POST /upload-chunk (multipart: fileName, chunkIndex, totalChunks, chunk)
func (h *Handlers) UploadChunkHandler(c *fiber.Ctx) error {
	var form chunkForm
	if err := h.bindForm(c, &form); err != nil {
		return h.uploadFailed(c, "chunk", err)
	}
	index, err := strconv.Atoi(form.ChunkIndex)
	if err != nil {
		return h.uploadFailed(c, "chunk", errs.InvalidInput("chunkIndex must be an integer"))
	}
	total, err := strconv.Atoi(form.TotalChunks)
	if err != nil {
		return h.uploadFailed(c, "chunk", errs.InvalidInput("totalChunks must be an integer"))
	}
	fh, err := c.FormFile("chunk")
	if err != nil {
		return h.uploadFailed(c, "chunk", errs.InvalidInput("chunk part is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return h.uploadFailed(c, "chunk", err)
	}
	defer f.Close()

	res, err := h.uploads.PutChunk(form.FileName, index, total, f)
	if err != nil {
		return h.uploadFailed(c, "chunk", err)
	}
	if !res.Completed {
		h.metrics.Uploads.WithLabelValues("chunk", "stored").Inc()
		return c.JSON(fiber.Map{
			"message":    "Chunk received",
			"chunkIndex": res.Index,
			"completed":  false,
		})
	}
	h.metrics.Uploads.WithLabelValues("chunk", "completed").Inc()
	return c.JSON(fiber.Map{
		"message":   "File uploaded successfully",
		"filename":  res.Filename,
		"url":       res.URL,
		"completed": true,
	})
}

// UploadHandler POST /upload (multipart: file)
func (h *Handlers) UploadHandler(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return h.uploadFailed(c, "simple", errs.InvalidInput("file part is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return h.uploadFailed(c, "simple", err)
	}
	defer f.Close()

	saved, err := h.uploads.Save(fh.Filename, f)
	if err != nil {
		return h.uploadFailed(c, "simple", err)
	}
	mimetype := fh.Header.Get(fiber.HeaderContentType)
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(saved.Filename))
	}
	if mimetype == "" {
		mimetype = fiber.MIMEOctetStream
	}
	h.metrics.Uploads.WithLabelValues("simple", "completed").Inc()
	return c.JSON(fiber.Map{
		"message":  "File uploaded successfully",
		"filename": saved.Filename,
		"url":      saved.URL,
		"mimetype": mimetype,
		"size":     saved.Size,
	})
}

func (h *Handlers) uploadFailed(c *fiber.Ctx, kind string, err error) error {
	h.metrics.Uploads.WithLabelValues(kind, "failed").Inc()
	return h.fail(c, err)
}
