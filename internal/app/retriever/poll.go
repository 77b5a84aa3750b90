package retriever

import (
	"context"
	"errors"
	"time"

	"github.com/hickar/mailcode/internal/app/mailer"
	"github.com/hickar/mailcode/internal/pkg/retry"
)

const (
	mailboxPollAttempts = 20
	mailboxPollInterval = 3 * time.Second
)

// errMailboxEmpty means no candidate message has arrived yet;
// pollPolicy reconnects and looks again.
var errMailboxEmpty = errors.New("no candidate messages in mailbox")

// pollPolicy repeats a mailbox check while it reports errMailboxEmpty.
type pollPolicy struct {
	budget  retry.Budget
	sleeper retry.Sleeper
}

func defaultPollPolicy(sleeper retry.Sleeper) pollPolicy {
	return pollPolicy{
		budget: retry.Budget{
			MaxAttempts: mailboxPollAttempts,
			Interval:    retry.Fixed(mailboxPollInterval),
		},
		sleeper: sleeper,
	}
}

func (p pollPolicy) run(ctx context.Context, check func(context.Context) (*mailer.Message, error)) (*mailer.Message, error) {
	for attempt := 1; ; attempt++ {
		msg, err := check(ctx)
		if !errors.Is(err, errMailboxEmpty) {
			return msg, err
		}

		if p.budget.Exhausted(attempt) {
			return nil, mailer.ErrNoCodeFound
		}

		if err = p.sleeper.Sleep(ctx, p.budget.Interval.Draw(nil)); err != nil {
			return nil, err
		}
	}
}
