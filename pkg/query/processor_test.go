package query

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/lemonberrylabs/calcbot/pkg/calc"
	"github.com/lemonberrylabs/calcbot/pkg/loop"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// fakeMeter counts calc_query increments by their error attribute and the
// number of latency observations.
type fakeMeter struct {
	noop.Meter

	mu        sync.Mutex
	counts    map[bool]int64
	latencies int
}

type fakeMeterProvider struct {
	noop.MeterProvider
	meter *fakeMeter
}

func (mp *fakeMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return mp.meter
}

func (m *fakeMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return &fakeCounter{meter: m}, nil
}

func (m *fakeMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return &fakeHistogram{meter: m}, nil
}

type fakeCounter struct {
	noop.Int64Counter
	meter *fakeMeter
}

func (c *fakeCounter) Add(_ context.Context, incr int64, opts ...metric.AddOption) {
	attrs := metric.NewAddConfig(opts).Attributes()
	v, _ := attrs.Value("error")
	c.meter.mu.Lock()
	c.meter.counts[v.AsBool()] += incr
	c.meter.mu.Unlock()
}

type fakeHistogram struct {
	noop.Float64Histogram
	meter *fakeMeter
}

func (h *fakeHistogram) Record(context.Context, float64, ...metric.RecordOption) {
	h.meter.mu.Lock()
	h.meter.latencies++
	h.meter.mu.Unlock()
}

func newTestProcessor(t *testing.T, opts ...Option) (*Processor, *fakeMeter) {
	t.Helper()
	m := &fakeMeter{counts: make(map[bool]int64)}
	opts = append([]Option{
		WithMeterProvider(&fakeMeterProvider{meter: m}),
		WithTracerProvider(tracenoop.NewTracerProvider()),
	}, opts...)
	p, err := New(calc.New(), opts...)
	require.NoError(t, err)
	return p, m
}

func TestProcess(t *testing.T) {
	p, _ := newTestProcessor(t)

	tests := []struct {
		query       string
		wantResult  string
		wantMessage string
		wantError   bool
		wantKind    string
	}{
		{"2+2", "4", "2+2 = 4", false, ""},
		{"2 + 2 * 2 - (2 + 2) ** 2", "-10", "2 + 2 * 2 - (2 + 2) ** 2 = -10", false, ""},
		{"2.5*2", "5", "2.5*2 = 5", false, ""},
		{"1/3", "0.3333333333333333", "1/3 = 0.3333333333333333", false, ""},
		{"1/0", ResultIncorrect, "Incorrect query: 1/0", true, "ArithmeticError"},
		{"(1+2", ResultIncorrect, "Incorrect query: (1+2", true, "UnbalancedParentheses"},
		{"hello", ResultIncorrect, "Incorrect query: hello", true, "UnknownSymbol"},
		{"", ResultWaiting, MessageEmpty, false, ""},
		{"   ", ResultWaiting, MessageEmpty, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := p.Process(context.Background(), store.SourceHTTP, tt.query)
			assert.Equal(t, tt.query, res.Query)
			assert.Equal(t, tt.wantResult, res.Result)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, tt.wantError, res.Error)
			assert.Equal(t, tt.wantKind, res.Kind)
			if tt.wantError || tt.wantResult == ResultWaiting {
				assert.Nil(t, res.Value)
			} else {
				require.NotNil(t, res.Value)
			}
		})
	}
}

func TestProcessTooLong(t *testing.T) {
	p, _ := newTestProcessor(t)

	q := strings.Repeat("1", MaxQueryLength+1)
	res := p.Process(context.Background(), store.SourceHTTP, q)
	assert.True(t, res.Error)
	assert.Equal(t, ResultIncorrect, res.Result)
	assert.Equal(t, KindQueryTooLong, res.Kind)
}

func TestProcessCancelled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p, _ := newTestProcessor(t, WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Process(ctx, store.SourceTelegram, "1+1")
	assert.True(t, res.Error)
	assert.Equal(t, ResultFailed, res.Result)
	assert.Equal(t, MessageFailed, res.Message)
	assert.Empty(t, res.Kind)
	assert.Contains(t, buf.String(), "query_failed")
}

func TestProcessLogsIncorrectQueries(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p, _ := newTestProcessor(t, WithLogger(logger))

	p.Process(context.Background(), store.SourceInline, "1+")
	assert.Contains(t, buf.String(), "query_incorrect")
	assert.Contains(t, buf.String(), "kind=OperandOperatorCountMismatch")
	assert.Contains(t, buf.String(), "component=query")
}

func TestProcessMetrics(t *testing.T) {
	p, m := newTestProcessor(t)

	p.Process(context.Background(), store.SourceHTTP, "1+1")
	p.Process(context.Background(), store.SourceHTTP, "")
	p.Process(context.Background(), store.SourceHTTP, "1//0")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, int64(2), m.counts[false])
	assert.Equal(t, int64(1), m.counts[true])
	assert.Equal(t, 3, m.latencies)
}

func TestProcessRecordsHistory(t *testing.T) {
	h := store.New(10)
	p, _ := newTestProcessor(t, WithHistory(h))
	assert.Same(t, h, p.History())

	ok := p.Process(context.Background(), store.SourceGRPC, "6*7")
	bad := p.Process(context.Background(), store.SourceGRPC, "6*")

	require.NotEmpty(t, ok.ID)
	rec, err := h.Get(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", rec.Result)
	assert.Equal(t, store.SourceGRPC, rec.Source)
	assert.False(t, rec.Error)

	rec, err = h.Get(bad.ID)
	require.NoError(t, err)
	assert.True(t, rec.Error)
	assert.Equal(t, "OperandOperatorCountMismatch", rec.Kind)

	stats := h.Stats()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestProcessOnLoop(t *testing.T) {
	l := loop.New()
	p, err := New(calc.New(calc.WithYielder(l)),
		WithLoop(l),
		WithMeterProvider(noop.NewMeterProvider()),
		WithTracerProvider(tracenoop.NewTracerProvider()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Process(context.Background(), store.SourceHTTP, "((1+2)*3)^2")
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, "81", res.Result)
	}
	stats := l.Stats()
	assert.Equal(t, int64(10), stats.TasksRun)
	assert.Positive(t, stats.Yields)
}

type panickingYielder struct{}

func (panickingYielder) Yield(context.Context) error { panic("scheduler exploded") }

func TestProcessRecoversPanics(t *testing.T) {
	m := &fakeMeter{counts: make(map[bool]int64)}
	p, err := New(calc.New(calc.WithYielder(panickingYielder{})),
		WithMeterProvider(&fakeMeterProvider{meter: m}))
	require.NoError(t, err)

	res := p.Process(context.Background(), store.SourceCLI, "1+1")
	assert.True(t, res.Error)
	assert.Equal(t, ResultFailed, res.Result)
}
