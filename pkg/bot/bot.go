// Package bot implements the Telegram calculator bot: it receives updates by
// long polling or webhook, queues them, and answers commands, text messages
// and inline queries with calculator results.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/query"
)

// Defaults.
const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 1000
	DefaultPollTimeout = 30 * time.Second
	DefaultPollLimit   = 100
	DefaultSendRate    = 30 // messages per second
)

// ErrQueueFull is returned by Enqueue when the inbound queue has no room.
var ErrQueueFull = errors.New("inbound update queue is full")

// Bot is a Telegram calculator bot.
type Bot struct {
	api     API
	proc    *query.Processor
	logger  *slog.Logger
	limiter *rate.Limiter
	version string

	workers     int
	queueSize   int
	pollTimeout time.Duration
	pollLimit   int
	webhookURL  string
	retryBase   time.Duration
	retryMax    time.Duration

	mu    sync.RWMutex
	state State
	self  tgbotapi.User
	err   error

	qmu    sync.RWMutex // guards sends on queue against its close
	queue  chan tgbotapi.Update
	offset int

	cancelRun context.CancelFunc
}

// Option configures a Bot.
type Option func(*Bot)

// WithWorkers sets the number of goroutines handling updates.
func WithWorkers(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the inbound update queue.
func WithQueueSize(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithPollTimeout sets the long-poll timeout passed to getUpdates.
func WithPollTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d >= 0 {
			b.pollTimeout = d
		}
	}
}

// WithPollLimit sets the maximum number of updates fetched per poll.
func WithPollLimit(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.pollLimit = n
		}
	}
}

// WithSendRate limits outbound API calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithSendRate(perSecond float64, burst int) Option {
	return func(b *Bot) {
		if perSecond <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithWebhook makes the bot register url as its webhook instead of polling.
// Updates are then delivered through Enqueue.
func WithWebhook(url string) Option {
	return func(b *Bot) { b.webhookURL = url }
}

// WithRetry sets the backoff used after failed polls.
func WithRetry(base, maxDelay time.Duration) Option {
	return func(b *Bot) {
		if base > 0 {
			b.retryBase = base
		}
		if maxDelay >= b.retryBase {
			b.retryMax = maxDelay
		}
	}
}

// WithVersion sets the version reported in the meta message.
func WithVersion(v string) Option {
	return func(b *Bot) { b.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// New creates a bot in the Created state.
func New(api API, proc *query.Processor, opts ...Option) *Bot {
	b := &Bot{
		api:         api,
		proc:        proc,
		version:     "dev",
		workers:     DefaultWorkers,
		queueSize:   DefaultQueueSize,
		pollTimeout: DefaultPollTimeout,
		pollLimit:   DefaultPollLimit,
		retryBase:   time.Second,
		retryMax:    time.Minute,
		limiter:     rate.NewLimiter(rate.Limit(DefaultSendRate), DefaultSendRate),
		state:       StateCreated,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDiscard(b.logger).With("component", "bot")
	return b
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Self returns the bot's own account as reported by getMe.
func (b *Bot) Self() tgbotapi.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

// Err returns the error that moved the bot to Failed, if any.
func (b *Bot) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

func (b *Bot) transition(to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitionLocked(to)
}

func (b *Bot) transitionLocked(to State) error {
	from := b.state
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrProhibitedState, from, to)
	}
	b.state = to
	b.logger.Debug("bot_state_changed", "from", from, "to", to)
	return nil
}

// fail moves the bot to Failed and stops a running Run.
func (b *Bot) fail(err error) {
	b.mu.Lock()
	if b.state.Terminal() {
		b.mu.Unlock()
		return
	}
	b.err = err
	b.state = StateFailed
	cancel := b.cancelRun
	b.mu.Unlock()

	b.logger.Error("bot_failed", "error", err)
	if cancel != nil {
		cancel()
	}
}

// Start checks the token with getMe and configures update delivery: it
// registers the webhook in webhook mode and removes any webhook otherwise.
func (b *Bot) Start(ctx context.Context) error {
	if s := b.State(); s != StateCreated {
		return fmt.Errorf("%w: cannot start in state %s", ErrProhibitedState, s)
	}

	b.logger.Info("bot_starting")
	me, err := b.api.GetMe()
	if err != nil {
		err = fmt.Errorf("telegram authorization check: %w", err)
		b.fail(err)
		return err
	}

	if b.webhookURL != "" {
		wh, err := tgbotapi.NewWebhook(b.webhookURL)
		if err != nil {
			err = fmt.Errorf("invalid webhook url: %w", err)
			b.fail(err)
			return err
		}
		if _, err := b.request(ctx, wh); err != nil {
			err = fmt.Errorf("setting webhook: %w", err)
			b.fail(err)
			return err
		}
	} else if _, err := b.request(ctx, tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("telegram_delete_webhook_error", "error", err)
	}

	b.qmu.Lock()
	b.queue = make(chan tgbotapi.Update, b.queueSize)
	b.qmu.Unlock()

	b.mu.Lock()
	b.self = me
	err = b.transitionLocked(StateInitialized)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.logger.Info("bot_authorized", "id", me.ID, "username", me.UserName,
		"inline_queries", me.SupportsInlineQueries, "webhook", b.webhookURL != "")
	return nil
}

// Run handles updates until ctx is done, then drains the queue and returns.
// In polling mode it long-polls getUpdates; in webhook mode updates arrive
// through Enqueue. Run returns the failure when a handler panics.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if err := b.transitionLocked(StateRunning); err != nil {
		b.mu.Unlock()
		return err
	}
	b.cancelRun = cancel
	b.mu.Unlock()

	// Handlers keep running while the queue drains after ctx is done.
	handleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.work(handleCtx, id)
		}(i)
	}
	b.logger.Info("bot_running", "workers", b.workers, "queue_size", b.queueSize, "webhook", b.webhookURL != "")

	if b.webhookURL == "" {
		b.poll(runCtx)
	} else {
		<-runCtx.Done()
	}

	// A failed bot stays Failed while it drains.
	_ = b.transition(StateClosing)
	b.logger.Info("bot_stopping", "pending", len(b.queue))

	b.qmu.Lock()
	close(b.queue)
	b.qmu.Unlock()
	wg.Wait()

	if b.webhookURL == "" {
		b.confirmOffset()
	}

	if err := b.Err(); err != nil {
		return err
	}
	if err := b.transition(StateClosed); err != nil {
		return err
	}
	b.logger.Info("bot_stopped")
	return nil
}

// Enqueue adds an update to the inbound queue without blocking.
func (b *Bot) Enqueue(u tgbotapi.Update) error {
	if s := b.State(); s != StateRunning {
		return fmt.Errorf("%w: cannot accept updates in state %s", ErrProhibitedState, s)
	}

	b.qmu.RLock()
	defer b.qmu.RUnlock()
	if b.State() != StateRunning {
		return fmt.Errorf("%w: bot is shutting down", ErrProhibitedState)
	}
	select {
	case b.queue <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// poll long-polls getUpdates and queues the results until ctx is done.
func (b *Bot) poll(ctx context.Context) {
	backoff := b.retryBase
	warnedFull := false

	for ctx.Err() == nil {
		cfg := tgbotapi.NewUpdate(b.offset)
		cfg.Limit = b.pollLimit
		cfg.Timeout = int(b.pollTimeout / time.Second)
		cfg.AllowedUpdates = []string{"message", "inline_query"}

		updates, err := b.api.GetUpdates(cfg)
		if err != nil {
			b.logger.Warn("telegram_get_updates_error", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, b.retryMax)
			continue
		}
		backoff = b.retryBase

		for _, u := range updates {
			if len(b.queue) == cap(b.queue) && !warnedFull {
				b.logger.Warn("bot_queue_full", "size", cap(b.queue))
				warnedFull = true
			}
			select {
			case b.queue <- u:
			case <-ctx.Done():
				return
			}
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
		}
		if len(b.queue) < cap(b.queue) {
			warnedFull = false
		}
	}
}

// confirmOffset acknowledges queued updates so Telegram does not redeliver
// them after a restart.
func (b *Bot) confirmOffset() {
	if b.offset == 0 {
		return
	}
	cfg := tgbotapi.NewUpdate(b.offset)
	cfg.Limit = 1
	cfg.Timeout = 0
	if _, err := b.api.GetUpdates(cfg); err != nil {
		b.logger.Warn("telegram_confirm_offset_error", "offset", b.offset, "error", err)
	}
}

func (b *Bot) work(ctx context.Context, id int) {
	b.logger.Debug("bot_worker_started", "worker", id)
	for u := range b.queue {
		b.dispatch(ctx, u)
	}
	b.logger.Debug("bot_worker_stopped", "worker", id)
}

func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(fmt.Errorf("handler panic on update %d: %v", u.UpdateID, r))
		}
	}()
	if err := b.HandleUpdate(ctx, u); err != nil {
		b.logger.Error("telegram_handle_update_error", "update_id", u.UpdateID, "error", err)
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return b.api.Send(c)
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.api.Request(c)
}
