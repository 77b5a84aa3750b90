package retriever

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
	"github.com/hickar/mailcode/internal/pkg/retry"
)

// Options carries the network and timing dependencies of the retrievers.
// Zero fields are replaced with production defaults.
type Options struct {
	HTTPClient *http.Client
	IMAPDialer ImapDialer
	POP3Dialer POP3Dialer
	Sleeper    retry.Sleeper
	Now        func() time.Time
}

func (o *Options) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.IMAPDialer == nil {
		o.IMAPDialer = ImapDialerFunc(DialIMAPTLS)
	}
	if o.POP3Dialer == nil {
		o.POP3Dialer = DialPOP3
	}
	if o.Sleeper == nil {
		o.Sleeper = retry.TimerSleeper{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// New validates cfg and returns the mailer.Source for its mailbox mode.
// account is the address the verification email is sent to; its text is
// never treated as part of a code.
func New(cfg config.Mailbox, account string, opts Options, logger *slog.Logger) (mailer.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate mailbox: %w", err)
	}
	opts.setDefaults()

	mode := cfg.Mode()
	logger = logger.With(slog.String("mailbox", mode.String()))

	switch mode {
	case config.ModeTempMail:
		return newTempMailRetriever(cfg, account, opts, logger), nil
	case config.ModeIMAP, config.ModePOP3:
		if account == "" {
			return nil, errors.New("account address is required for IMAP/POP3 mailboxes")
		}
		if mode == config.ModeIMAP {
			return newIMAPRetriever(cfg, account, opts, logger), nil
		}
		return newPOP3Retriever(cfg, account, opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox mode %s", mode)
	}
}
