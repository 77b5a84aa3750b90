package retriever

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/knadh/go-pop3"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
)

// pop3RecentLimit is how many of the newest messages are inspected per check.
const pop3RecentLimit = 10

// POP3Conn is the subset of *pop3.Conn used by the POP3 retriever.
type POP3Conn interface {
	Auth(user, password string) error
	Stat() (int, int, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Quit() error
}

// POP3Dialer opens an unauthenticated POP3 connection.
type POP3Dialer func(opt pop3.Opt) (POP3Conn, error)

// DialPOP3 connects with github.com/knadh/go-pop3.
func DialPOP3(opt pop3.Opt) (POP3Conn, error) {
	conn, err := pop3.New(opt).NewConn()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type pop3Retriever struct {
	dial      POP3Dialer
	opt       pop3.Opt
	user      string
	password  string
	account   string
	sender    string
	extractor mailer.Extractor
	poll      pollPolicy
	logger    *slog.Logger
}

func newPOP3Retriever(cfg config.Mailbox, account string, opts Options, logger *slog.Logger) *pop3Retriever {
	return &pop3Retriever{
		dial: opts.POP3Dialer,
		opt: pop3.Opt{
			Host:       cfg.IMAPServer,
			Port:       cfg.IMAPPort,
			TLSEnabled: true,
		},
		user:     cfg.IMAPUser,
		password: cfg.IMAPPass,
		account:  account,
		sender:   senderFilter(cfg.SenderFilter),
		poll:     defaultPollPolicy(opts.Sleeper),
		logger:   logger,
	}
}

// Fetch inspects the newest messages in the POP3 mailbox, newest first,
// and returns the first one from the expected sender carrying a code.
// When nothing qualifies the mailbox is checked again after a short delay.
func (p *pop3Retriever) Fetch(ctx context.Context) (*mailer.Message, error) {
	return p.poll.run(ctx, p.check)
}

func (p *pop3Retriever) check(ctx context.Context) (*mailer.Message, error) {
	conn, err := p.dial(p.opt)
	if err != nil {
		return nil, mailer.Transient("dial TLS", err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			p.logger.DebugContext(ctx, "pop3 quit failed", slog.Any("error", err))
		}
	}()

	if err = conn.Auth(p.user, p.password); err != nil {
		return nil, mailer.Transient("auth", err)
	}

	count, _, err := conn.Stat()
	if err != nil {
		return nil, mailer.Transient("stat", err)
	}

	lowest := max(1, count-pop3RecentLimit+1)
	for id := count; id >= lowest; id-- {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := conn.RetrRaw(id)
		if err != nil {
			return nil, mailer.Transient("retr "+strconv.Itoa(id), err)
		}

		parsed, err := parseMail(raw)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to parse message", slog.Int("id", id), slog.Any("error", err))
			continue
		}

		if p.sender != "" && !strings.Contains(strings.ToLower(parsed.From), p.sender) {
			continue
		}

		code, ok := p.extractor.Extract(parsed.Body, p.account)
		if !ok {
			continue
		}

		msg := parsed.Message
		msg.ID = strconv.Itoa(id)
		msg.Code = code
		return &msg, nil
	}

	return nil, errMailboxEmpty
}

// senderFilter returns the lowercase sender substring, empty when any sender is accepted.
func senderFilter(filter string) string {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == config.AnySender {
		return ""
	}
	return filter
}
