package handlers

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/pelusa-v/duochat/internal/chat"
	"github.com/pelusa-v/duochat/internal/errs"
	"github.com/pelusa-v/duochat/internal/history"
	"github.com/pelusa-v/duochat/internal/metrics"
	"github.com/pelusa-v/duochat/internal/presence"
	"github.com/pelusa-v/duochat/internal/upload"
)

type Options struct {
	PublicPath   string
	UploadsDir   string
	MaxBodySize  int64
	MaxFrameSize int64
}

// Handlers serves the HTTP and WebSocket surface of one chat server.
type Handlers struct {
	dispatcher     *chat.Dispatcher
	presence       *presence.Registry
	history        *history.Service
	uploads        *upload.Assembler
	metrics        *metrics.Metrics
	metricsHandler fasthttp.RequestHandler
	validate       *validator.Validate
	log            *slog.Logger
	opts           Options
}

func New(d *chat.Dispatcher, reg *presence.Registry, hist *history.Service, up *upload.Assembler, m *metrics.Metrics, log *slog.Logger, opts Options) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	if opts.PublicPath == "" {
		opts.PublicPath = "/uploads"
	}
	return &Handlers{
		dispatcher:     d,
		presence:       reg,
		history:        hist,
		uploads:        up,
		metrics:        m,
		metricsHandler: m.Handler(),
		validate:       newValidator(),
		log:            log,
		opts:           opts,
	}
}

// App builds the fiber application with every route registered.
func (h *Handlers) App() *fiber.App {
	cfg := fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	}
	if h.opts.MaxBodySize > 0 {
		cfg.BodyLimit = int(h.opts.MaxBodySize)
	}
	app := fiber.New(cfg)
	app.Use(h.requestLogger)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.ConnectHandler))

	app.Post("/upload-chunk", h.UploadChunkHandler)
	app.Post("/upload", h.UploadHandler)
	if h.opts.UploadsDir != "" {
		app.Static(h.opts.PublicPath, h.opts.UploadsDir, fiber.Static{
			ByteRange: true,
			Next:      hiddenPath,
		})
	}

	app.Get("/api/presence", h.PresenceHandler)
	app.Get("/api/messages", h.MessagesHandler) // ?before=&limit=
	app.Get("/healthz", h.HealthHandler)
	app.Get("/metrics", h.MetricsHandler)
	return app
}

// hiddenPath keeps dot-prefixed entries, such as in-progress merges, out of
// static serving.
func hiddenPath(c *fiber.Ctx) bool {
	return strings.Contains(c.Path(), "/.")
}

func (h *Handlers) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if websocket.IsWebSocketUpgrade(c) {
		return err
	}
	h.log.Debug("http_request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start).String(),
	)
	return err
}

func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch errs.CodeOf(err) {
	case errs.CodeInvalidInput, errs.CodeInvalidName:
		return fiber.StatusBadRequest
	case errs.CodeNotFound:
		return fiber.StatusNotFound
	case errs.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("request_failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (h *Handlers) errorHandler(c *fiber.Ctx, err error) error {
	return h.fail(c, err)
}
