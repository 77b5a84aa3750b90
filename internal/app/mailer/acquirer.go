package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hickar/mailcode/internal/pkg/logger"
	"github.com/hickar/mailcode/internal/pkg/retry"
)

const (
	DefaultMaxRetries    = 5
	DefaultRetryInterval = 60 * time.Second
)

type AcquirerOptions struct {
	MaxRetries    int           // Mailbox polling attempts, DefaultMaxRetries when <= 0.
	RetryInterval time.Duration // Delay between attempts, DefaultRetryInterval when <= 0.
	Sleeper       retry.Sleeper // retry.TimerSleeper when nil.
}

// Acquirer polls a Source until it yields a verification code
// or the retry budget is spent.
type Acquirer struct {
	source  Source
	budget  retry.Budget
	sleeper retry.Sleeper
	logger  *slog.Logger
}

func NewAcquirer(source Source, opts AcquirerOptions, logger *slog.Logger) *Acquirer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Sleeper == nil {
		opts.Sleeper = retry.TimerSleeper{}
	}

	return &Acquirer{
		source: source,
		budget: retry.Budget{
			MaxAttempts: opts.MaxRetries,
			Interval:    retry.Fixed(opts.RetryInterval),
		},
		sleeper: opts.Sleeper,
		logger:  logger,
	}
}

// Acquire returns the first verification code produced by the source.
//
// Each attempt calls Source.Fetch once. A match is consumed (best effort)
// when the source implements Consumer. Fetch errors are logged and retried,
// except on the last attempt where they are returned inside *AcquisitionError.
// The acquirer sleeps between attempts, never after the last one.
func (a *Acquirer) Acquire(ctx context.Context) (string, error) {
	ctx = logger.WithAttrs(ctx, slog.String("acquisition_id", uuid.NewString()))

	for attempt := 1; attempt <= a.budget.MaxAttempts; attempt++ {
		attemptAttrs := []any{
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", a.budget.MaxAttempts),
		}
		a.logger.InfoContext(ctx, "checking mailbox for verification code", attemptAttrs...)

		msg, err := a.source.Fetch(ctx)
		switch {
		case err == nil:
			a.consume(ctx, msg)
			a.logger.InfoContext(ctx, "verification code received", append(attemptAttrs, slog.String("subject", msg.Subject))...)
			return msg.Code, nil

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", fmt.Errorf("fetch verification code: %w", err)

		case errors.Is(err, ErrNoCodeFound):
			a.logger.WarnContext(ctx, "no verification code yet", attemptAttrs...)

		default:
			a.logger.ErrorContext(ctx, "mailbox check failed", append(attemptAttrs, slog.Any("error", err))...)
			if a.budget.Exhausted(attempt) {
				a.logger.ErrorContext(ctx, "giving up on verification code", attemptAttrs...)
				return "", &AcquisitionError{Attempts: attempt, Err: err}
			}
		}

		if a.budget.Exhausted(attempt) {
			break
		}

		delay := a.budget.Interval.Draw(nil)
		a.logger.DebugContext(ctx, "waiting before next mailbox check", slog.Duration("delay", delay))
		if err = a.sleeper.Sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("wait for next attempt: %w", err)
		}
	}

	a.logger.ErrorContext(ctx, "giving up on verification code", slog.Int("max_attempts", a.budget.MaxAttempts))
	return "", &AcquisitionError{Attempts: a.budget.MaxAttempts, Err: ErrNoCodeFound}
}

// consume removes a used message. Failures only risk a stale match
// on the next acquisition, so they are logged and dropped.
func (a *Acquirer) consume(ctx context.Context, msg *Message) {
	consumer, ok := a.source.(Consumer)
	if !ok {
		return
	}

	if err := consumer.Consume(ctx, msg); err != nil {
		a.logger.WarnContext(ctx, "failed to clean up used message",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}
}
