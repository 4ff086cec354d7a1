package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/duochat/internal/history"
)

// ConnectHandler GET /ws
func (h *Handlers) ConnectHandler(c *websocket.Conn) {
	if h.opts.MaxFrameSize > 0 {
		c.SetReadLimit(h.opts.MaxFrameSize)
	}
	h.dispatcher.Serve(c)
}

// PresenceHandler GET /api/presence
func (h *Handlers) PresenceHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": h.presence.List()})
}

// MessagesHandler GET /api/messages?before=&beforeId=&limit=
func (h *Handlers) MessagesHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.history.PageSize())
	var (
		page history.Page
		err  error
	)
	if before := c.Query("before"); before != "" {
		page, err = h.history.OlderPage(before, c.Query("beforeId"), limit)
	} else {
		page, err = h.history.InitialPage(limit)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(page)
}

// HealthHandler GET /healthz
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "connections": h.dispatcher.Manager().Count()})
}

// MetricsHandler GET /metrics
func (h *Handlers) MetricsHandler(c *fiber.Ctx) error {
	h.metricsHandler(c.Context())
	return nil
}
