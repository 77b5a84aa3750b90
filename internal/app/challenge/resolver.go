package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/pkg/retry"
)

const (
	DefaultMaxRetries       = 2
	DefaultLookupTimeout    = 2 * time.Second
	DefaultIndicatorTimeout = 500 * time.Millisecond
	DefaultSettleTime       = 2 * time.Second
)

var (
	DefaultRetryInterval = retry.Between(time.Second, 2*time.Second)
	DefaultClickDelay    = retry.Between(time.Second, 3*time.Second)
)

type Options struct {
	MaxRetries       int            // Search/interact/verify cycles, DefaultMaxRetries when <= 0.
	RetryInterval    retry.Interval // Delay between cycles.
	LookupTimeout    time.Duration  // Timeout of a single widget lookup.
	IndicatorTimeout time.Duration  // Timeout of a single success indicator lookup.
	ClickDelay       retry.Interval // Delay before the widget is clicked.
	SettleTime       time.Duration  // Delay after the click before verification.
	WidgetPath       Path
	Indicators       []Indicator
	Sleeper          retry.Sleeper
	Capturer         Capturer   // Diagnostic snapshots, none when nil.
	Rand             *rand.Rand // Source of delay jitter, package level generator when nil.
}

func (o *Options) setDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryInterval == (retry.Interval{}) {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = DefaultLookupTimeout
	}
	if o.IndicatorTimeout <= 0 {
		o.IndicatorTimeout = DefaultIndicatorTimeout
	}
	if o.ClickDelay == (retry.Interval{}) {
		o.ClickDelay = DefaultClickDelay
	}
	if o.SettleTime <= 0 {
		o.SettleTime = DefaultSettleTime
	}
	if len(o.WidgetPath) == 0 {
		o.WidgetPath = DefaultWidgetPath
	}
	if len(o.Indicators) == 0 {
		o.Indicators = DefaultIndicators
	}
	if o.Sleeper == nil {
		o.Sleeper = retry.TimerSleeper{}
	}
}

// Resolver drives a page through the challenge widget.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	opts.setDefaults()
	return &Resolver{opts: opts, logger: logger}
}

// resolution is the state of a single Resolve call.
type resolution struct {
	page    Page
	attempt int
	widget  Element
	stage   Stage
	lastErr error
}

// Resolve runs the state machine until the page shows a success indicator
// or MaxRetries cycles have passed.
//
//	Searching   -> Success      success indicator already present
//	Searching   -> Interacting  widget located
//	Searching   -> Searching    widget absent, budget left (after a delay)
//	Interacting -> Verifying    widget clicked
//	Verifying   -> Success      success indicator present
//	Verifying   -> Searching    budget left (after a delay)
//	*           -> Failed       budget spent
//
// Failure is reported as *ChallengeError. Context cancellation aborts
// immediately with the context error.
func (r *Resolver) Resolve(ctx context.Context, page Page) (Stage, error) {
	run := &resolution{page: page}
	r.logger.InfoContext(ctx, "detecting challenge")

	state := Searching
	for {
		r.capture(ctx, page, state)

		switch state {
		case Success:
			r.logger.InfoContext(ctx, "challenge passed", slog.String("stage", run.stage.String()), slog.Int("attempt", run.attempt))
			return run.stage, nil
		case Failed:
			r.logger.ErrorContext(ctx, "challenge not passed, retry budget spent",
				slog.Int("max_attempts", r.opts.MaxRetries),
				slog.Any("error", run.lastErr),
			)
			return StageNone, &ChallengeError{Attempts: run.attempt, Err: run.lastErr}
		}

		next, err := r.step(ctx, state, run)
		if err != nil {
			return StageNone, fmt.Errorf("%s: %w", state, err)
		}

		r.logger.DebugContext(ctx, "challenge transition",
			slog.String("from", state.String()),
			slog.String("to", next.String()),
			slog.Int("attempt", run.attempt),
		)
		state = next
	}
}

func (r *Resolver) step(ctx context.Context, state State, run *resolution) (State, error) {
	switch state {
	case Searching:
		return r.search(ctx, run)
	case Interacting:
		return r.interact(ctx, run)
	case Verifying:
		return r.verify(ctx, run)
	default:
		return Failed, fmt.Errorf("no transition from state %s", state)
	}
}

func (r *Resolver) search(ctx context.Context, run *resolution) (State, error) {
	if run.attempt >= r.opts.MaxRetries {
		return Failed, nil
	}
	run.attempt++
	r.logger.DebugContext(ctx, "looking for challenge widget", slog.Int("attempt", run.attempt), slog.Int("max_attempts", r.opts.MaxRetries))

	if r.passed(ctx, run) {
		return Success, nil
	}

	widget, err := run.page.Find(ctx, r.opts.WidgetPath, r.opts.LookupTimeout)
	if err == nil {
		r.logger.InfoContext(ctx, "challenge widget detected")
		run.widget = widget
		return Interacting, nil
	}
	if ctx.Err() != nil {
		return Failed, ctx.Err()
	}
	run.lastErr = err

	// The page may have passed the check on its own while we looked.
	if r.passed(ctx, run) {
		return Success, nil
	}

	return r.backoff(ctx, run)
}

func (r *Resolver) interact(ctx context.Context, run *resolution) (State, error) {
	if err := r.opts.Sleeper.Sleep(ctx, r.opts.ClickDelay.Draw(r.opts.Rand)); err != nil {
		return Failed, err
	}

	if err := run.widget.Click(ctx); err != nil {
		r.logger.DebugContext(ctx, "challenge widget click failed", slog.Any("error", err))
		run.lastErr = fmt.Errorf("click widget: %w", err)
		return Verifying, nil
	}

	if err := r.opts.Sleeper.Sleep(ctx, r.opts.SettleTime); err != nil {
		return Failed, err
	}

	return Verifying, nil
}

func (r *Resolver) verify(ctx context.Context, run *resolution) (State, error) {
	if r.passed(ctx, run) {
		return Success, nil
	}
	return r.backoff(ctx, run)
}

// backoff waits before the next search, or fails when no attempts are left.
func (r *Resolver) backoff(ctx context.Context, run *resolution) (State, error) {
	run.widget = nil
	if run.attempt >= r.opts.MaxRetries {
		return Failed, nil
	}

	if err := r.opts.Sleeper.Sleep(ctx, r.opts.RetryInterval.Draw(r.opts.Rand)); err != nil {
		return Failed, err
	}

	return Searching, nil
}

// passed checks success indicators in order and records the first one found.
func (r *Resolver) passed(ctx context.Context, run *resolution) bool {
	for _, indicator := range r.opts.Indicators {
		if _, err := run.page.Find(ctx, indicator.Path, r.opts.IndicatorTimeout); err == nil {
			run.stage = indicator.Stage
			return true
		}
	}
	return false
}

func (r *Resolver) capture(ctx context.Context, page Page, state State) {
	if r.opts.Capturer == nil {
		return
	}

	if err := r.opts.Capturer.Capture(ctx, page, state); err != nil {
		r.logger.WarnContext(ctx, "failed to capture page", slog.String("state", state.String()), slog.Any("error", err))
	}
}

// OptionsFromConfig maps the challenge section of the configuration onto
// resolver options. Screenshots go to cfg.ScreenshotDir.
func OptionsFromConfig(cfg config.ChallengeConfig) Options {
	opts := Options{
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: retry.Between(cfg.RetryIntervalMin, cfg.RetryIntervalMax),
	}
	if cfg.ScreenshotDir != "" {
		opts.Capturer = FileCapturer{Dir: cfg.ScreenshotDir}
	}
	return opts
}
