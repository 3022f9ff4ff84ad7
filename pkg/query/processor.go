// Package query turns raw user queries into user-facing calculator results.
// It is shared by every transport: Telegram, HTTP, gRPC, the web UI and the
// CLI.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lemonberrylabs/calcbot/pkg/calc"
	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/loop"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// MaxQueryLength is the longest query, in bytes, that is evaluated.
const MaxQueryLength = 4096

const instrumentationName = "github.com/lemonberrylabs/calcbot/pkg/query"

// User-facing texts.
const (
	ResultWaiting   = "Waiting for query"
	MessageEmpty    = "Empty query provided"
	ResultIncorrect = "Result: Incorrect query"
	ResultFailed    = "Result: Error occurred :("
	MessageFailed   = "An error occurred while processing the query"
)

// KindQueryTooLong marks queries rejected for their length.
const KindQueryTooLong = "QueryTooLong"

// Result is the outcome of processing one query.
type Result struct {
	ID       string        `json:"id,omitempty"`
	Query    string        `json:"query"`
	Result   string        `json:"result"`
	Message  string        `json:"message"`
	Error    bool          `json:"error"`
	Kind     string        `json:"kind,omitempty"`
	Value    *float64      `json:"value,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Processor evaluates queries and records their outcome.
type Processor struct {
	calc    *calc.Calculator
	loop    *loop.Loop
	history *store.Store
	logger  *slog.Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	tracer  trace.Tracer
	queries metric.Int64Counter
	latency metric.Float64Histogram
}

// Option configures a Processor.
type Option func(*Processor)

// WithLoop runs every evaluation as a task of l.
func WithLoop(l *loop.Loop) Option {
	return func(p *Processor) { p.loop = l }
}

// WithHistory records every processed query in s.
func WithHistory(s *store.Store) Option {
	return func(p *Processor) { p.history = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Processor) { p.meterProvider = mp }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Processor) { p.tracerProvider = tp }
}

// New creates a processor around c.
func New(c *calc.Calculator, opts ...Option) (*Processor, error) {
	p := &Processor{calc: c}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger).With("component", "query")
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	if p.tracerProvider == nil {
		p.tracerProvider = otel.GetTracerProvider()
	}

	meter := p.meterProvider.Meter(instrumentationName)
	var err error
	p.queries, err = meter.Int64Counter("calc_query",
		metric.WithDescription("Number of queries processed"))
	if err != nil {
		return nil, fmt.Errorf("creating calc_query counter: %w", err)
	}
	p.latency, err = meter.Float64Histogram("calc_query_process_seconds",
		metric.WithDescription("Time spent calculating query"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating calc_query_process_seconds histogram: %w", err)
	}
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return p, nil
}

// Calculator returns the calculator used by the processor.
func (p *Processor) Calculator() *calc.Calculator {
	return p.calc
}

// History returns the history store, or nil when none is configured.
func (p *Processor) History() *store.Store {
	return p.history
}

// Process evaluates q. It never fails: problems are reported in the result.
func (p *Processor) Process(ctx context.Context, source store.Source, q string) Result {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "query.Process",
		trace.WithAttributes(attribute.String("query.source", string(source))))
	defer span.End()

	res := Result{Query: q}
	switch {
	case strings.TrimSpace(q) == "":
		res.Result = ResultWaiting
		res.Message = MessageEmpty

	case len(q) > MaxQueryLength:
		p.incorrect(&res, KindQueryTooLong)
		p.logger.Warn("query_too_long", "source", source, "length", len(q))

	default:
		v, err := p.evaluate(ctx, q)
		switch {
		case err == nil:
			formatted := calc.FormatNumber(v)
			res.Result = formatted
			res.Message = fmt.Sprintf("%s = %s", q, formatted)
			res.Value = &v
		case calc.IsIncorrectQuery(err):
			p.incorrect(&res, string(calc.KindOf(err)))
			p.logger.Warn("query_incorrect", "source", source, "query", q, "kind", res.Kind, "error", err)
		default:
			res.Result = ResultFailed
			res.Message = MessageFailed
			res.Error = true
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error("query_failed", "source", source, "query", q, "error", err)
		}
	}

	res.Duration = time.Since(start)
	p.queries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", res.Error)))
	p.latency.Record(ctx, res.Duration.Seconds())
	span.SetAttributes(attribute.Bool("query.error", res.Error))
	if res.Kind != "" {
		span.SetAttributes(attribute.String("query.kind", res.Kind))
	}

	if p.history != nil {
		rec := p.history.Record(store.Record{
			Source:    source,
			Query:     res.Query,
			Result:    res.Result,
			Message:   res.Message,
			Error:     res.Error,
			Kind:      res.Kind,
			Duration:  res.Duration,
			CreatedAt: start,
		})
		res.ID = rec.ID
	}

	p.logger.Debug("query_processed", "source", source, "query", q, "result", res.Result,
		"error", res.Error, "duration", res.Duration)
	return res
}

func (p *Processor) incorrect(res *Result, kind string) {
	res.Result = ResultIncorrect
	res.Message = "Incorrect query: " + res.Query
	res.Error = true
	res.Kind = kind
}

// evaluate runs the calculator, on the loop when one is configured. A panic
// during evaluation is turned into an error.
func (p *Processor) evaluate(ctx context.Context, q string) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()

	run := func(ctx context.Context) error {
		v, err = p.calc.Evaluate(ctx, q)
		return nil
	}
	if p.loop == nil {
		_ = run(ctx)
		return v, err
	}
	if lerr := p.loop.Run(ctx, run); lerr != nil {
		return 0, lerr
	}
	return v, err
}
