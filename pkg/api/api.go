// Package api implements the REST API: query evaluation, query history and
// the Telegram webhook endpoint.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/calcbot/pkg/bot"
	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/loop"
	"github.com/lemonberrylabs/calcbot/pkg/query"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// defaultListLimit caps /v1/queries when no limit is given.
const defaultListLimit = 50

// UpdateSink accepts Telegram updates delivered to the webhook.
type UpdateSink interface {
	Enqueue(u tgbotapi.Update) error
}

// Server is the HTTP API server.
type Server struct {
	app     *fiber.App
	proc    *query.Processor
	loop    *loop.Loop
	logger  *slog.Logger
	version string

	sink          UpdateSink
	webhookSecret string
}

// Option configures a Server.
type Option func(*Server)

// WithLoop reports the loop's counters from /v1/stats.
func WithLoop(l *loop.Loop) Option {
	return func(s *Server) { s.loop = l }
}

// WithWebhook accepts Telegram updates on /telegram/webhook/<secret>.
func WithWebhook(sink UpdateSink, secret string) Option {
	return func(s *Server) {
		s.sink = sink
		s.webhookSecret = secret
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a new API server.
func New(proc *query.Processor, opts ...Option) *Server {
	srv := &Server{proc: proc, version: "dev"}
	for _, opt := range opts {
		opt(srv)
	}
	srv.logger = logging.OrDiscard(srv.logger).With("component", "http")

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	app.Get("/healthz", srv.health)

	app.Post("/v1/evaluate", srv.evaluate)
	app.Get("/v1/evaluate", srv.evaluateQuery)
	app.Get("/v1/queries", srv.listQueries)
	app.Get("/v1/queries/:id", srv.getQuery)
	app.Get("/v1/stats", srv.stats)

	app.Post("/telegram/webhook/:secret", srv.webhook)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http_listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.version,
	})
}

// --- Evaluation ---

type evaluateRequest struct {
	Query string `json:"query"`
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("invalid request body: %v", err))
	}
	res := s.proc.Process(c.UserContext(), store.SourceHTTP, req.Query)
	return c.JSON(resultToJSON(res))
}

func (s *Server) evaluateQuery(c *fiber.Ctx) error {
	res := s.proc.Process(c.UserContext(), store.SourceHTTP, c.Query("q"))
	return c.JSON(resultToJSON(res))
}

// --- History ---

func (s *Server) listQueries(c *fiber.Ctx) error {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
				fmt.Sprintf("invalid limit %q", v))
		}
		limit = n
	}

	items := []fiber.Map{}
	if h := s.proc.History(); h != nil {
		for _, r := range h.List(limit) {
			items = append(items, recordToJSON(r))
		}
	}
	return c.JSON(fiber.Map{
		"queries": items,
	})
}

func (s *Server) getQuery(c *fiber.Ctx) error {
	h := s.proc.History()
	if h == nil {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "query history is disabled")
	}
	r, err := h.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	}
	return c.JSON(recordToJSON(r))
}

func (s *Server) stats(c *fiber.Ctx) error {
	out := fiber.Map{}
	if h := s.proc.History(); h != nil {
		st := h.Stats()
		out["history"] = fiber.Map{
			"total":     st.Total,
			"succeeded": st.Succeeded,
			"failed":    st.Failed,
			"byKind":    st.ByKind,
			"retained":  h.Len(),
			"capacity":  h.Capacity(),
		}
	}
	if s.loop != nil {
		out["loop"] = s.loop.Stats()
	}
	return c.JSON(out)
}

// --- Telegram webhook ---

func (s *Server) webhook(c *fiber.Ctx) error {
	if s.sink == nil || s.webhookSecret == "" || c.Params("secret") != s.webhookSecret {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "not found")
	}

	var u tgbotapi.Update
	if err := c.BodyParser(&u); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("invalid update: %v", err))
	}

	if err := s.sink.Enqueue(u); err != nil {
		s.logger.Warn("telegram_webhook_rejected", "update_id", u.UpdateID, "error", err)
		status := "UNAVAILABLE"
		if errors.Is(err, bot.ErrQueueFull) {
			status = "RESOURCE_EXHAUSTED"
		}
		return errorJSON(c, fiber.StatusServiceUnavailable, status, err.Error())
	}
	return c.JSON(fiber.Map{"ok": true})
}

// --- Helpers ---

func errorJSON(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

func resultToJSON(r query.Result) fiber.Map {
	out := fiber.Map{
		"query":      r.Query,
		"result":     r.Result,
		"message":    r.Message,
		"error":      r.Error,
		"durationMs": float64(r.Duration.Microseconds()) / 1000,
	}
	if r.ID != "" {
		out["id"] = r.ID
	}
	if r.Kind != "" {
		out["kind"] = r.Kind
	}
	if r.Value != nil {
		out["value"] = *r.Value
	}
	return out
}

func recordToJSON(r store.Record) fiber.Map {
	out := fiber.Map{
		"id":         r.ID,
		"source":     r.Source,
		"query":      r.Query,
		"result":     r.Result,
		"message":    r.Message,
		"error":      r.Error,
		"durationMs": float64(r.Duration.Microseconds()) / 1000,
		"createTime": r.CreatedAt.Format(time.RFC3339Nano),
	}
	if r.Kind != "" {
		out["kind"] = r.Kind
	}
	return out
}
