// Package web provides the embedded web UI for calcbot.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/calcbot/pkg/query"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// recentLimit is the number of queries listed on the dashboard.
const recentLimit = 25

// Handler serves the web UI pages.
type Handler struct {
	proc    *query.Processor
	version string
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Version   string
	Data      interface{}
}

// New creates a new web UI handler.
func New(proc *query.Processor, version string) *Handler {
	return &Handler{
		proc:    proc,
		version: version,
		funcMap: template.FuncMap{
			"timeAgo":        timeAgo,
			"formatTime":     formatTime,
			"formatDuration": formatDuration,
			"resultClass":    resultClass,
			"resultIcon":     resultIcon,
			"truncate":       truncate,
			"percent":        percent,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed together with the layout only, so block names
	// cannot clash between pages.
	tmpl, err := template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page)
	if err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	pd := pageData{
		NavActive: navActive,
		Version:   h.version,
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pd); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/queries/:id", h.queryDetail)
	app.Post("/ui/evaluate", h.evaluate)

	// Redirect root to UI
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type dashboardContent struct {
	HistoryEnabled bool
	Stats          store.Stats
	Retained       int
	Capacity       int
	Recent         []store.Record
	Limit          int
}

type queryDetailContent struct {
	Record store.Record
}

type notFoundContent struct {
	Message string
}

// --- Page Handlers ---

func (h *Handler) dashboard(c *fiber.Ctx) error {
	content := dashboardContent{Limit: h.proc.Calculator().Limit()}
	if hist := h.proc.History(); hist != nil {
		content.HistoryEnabled = true
		content.Stats = hist.Stats()
		content.Retained = hist.Len()
		content.Capacity = hist.Capacity()
		content.Recent = hist.List(recentLimit)
	}
	return h.render(c, "dashboard.html", "dashboard", content)
}

func (h *Handler) queryDetail(c *fiber.Ctx) error {
	id := c.Params("id")
	hist := h.proc.History()
	if hist == nil {
		return h.notFound(c, "Query history is disabled")
	}
	rec, err := hist.Get(id)
	if err != nil {
		return h.notFound(c, fmt.Sprintf("Query '%s' not found", id))
	}
	return h.render(c, "query.html", "queries", queryDetailContent{Record: rec})
}

func (h *Handler) evaluate(c *fiber.Ctx) error {
	res := h.proc.Process(c.UserContext(), store.SourceWeb, c.FormValue("query"))
	if res.ID != "" {
		return c.Redirect("/ui/queries/"+res.ID, fiber.StatusSeeOther)
	}

	// Without history there is no detail page to redirect to.
	return h.render(c, "query.html", "queries", queryDetailContent{Record: store.Record{
		Source:    store.SourceWeb,
		Query:     res.Query,
		Result:    res.Result,
		Message:   res.Message,
		Error:     res.Error,
		Kind:      res.Kind,
		Duration:  res.Duration,
		CreatedAt: time.Now(),
	}})
}

func (h *Handler) notFound(c *fiber.Ctx, msg string) error {
	c.Status(fiber.StatusNotFound)
	return h.render(c, "not_found.html", "", notFoundContent{Message: msg})
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func resultClass(failed bool) string {
	if failed {
		return "state-failed"
	}
	return "state-succeeded"
}

func resultIcon(failed bool) template.HTML {
	if failed {
		return "&#10007;"
	}
	return "&#10003;"
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func percent(part, total int64) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(part)*100/float64(total))
}
