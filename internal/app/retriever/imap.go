package retriever

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
)

// imapDialTimeout bounds TCP connect and TLS handshake.
const imapDialTimeout = 30 * time.Second

// Mail providers rejecting SELECT until the client identifies itself (RFC 2971).
var identifyingDomains = []string{"@163.com", "@126.com", "@yeah.net"}

type ImapDialer interface {
	DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error)
}

type ImapDialerFunc func(string, *imapclient.Options) (*imapclient.Client, error)

func (f ImapDialerFunc) DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error) {
	return f(address, options)
}

// DialIMAPTLS is imapclient.DialTLS with a bounded connect and handshake.
func DialIMAPTLS(address string, options *imapclient.Options) (*imapclient.Client, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("split address: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if options != nil && options.TLSConfig != nil {
		tlsConfig = options.TLSConfig
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: imapDialTimeout}, "tcp", address, tlsConfig)
	if err != nil {
		return nil, err
	}

	return imapclient.New(conn, options), nil
}

// imapSession is the subset of IMAP commands used to find a verification email.
type imapSession interface {
	Identify(id *imap.IDData) error
	Select(folder string) error
	Search(criteria *imap.SearchCriteria) ([]imap.UID, error)
	FetchRaw(uid imap.UID) ([]byte, error)
	Delete(uid imap.UID) error
	Logout() error
}

type imapRetriever struct {
	open      func(ctx context.Context) (imapSession, error)
	folder    string
	user      string
	account   string
	identify  bool
	extractor mailer.Extractor
	poll      pollPolicy
	now       func() time.Time
	logger    *slog.Logger
}

func newIMAPRetriever(cfg config.Mailbox, account string, opts Options, logger *slog.Logger) *imapRetriever {
	r := &imapRetriever{
		folder:   cfg.IMAPDir,
		user:     cfg.IMAPUser,
		account:  account,
		identify: cfg.IMAPIdentify || requiresIdentification(cfg.IMAPUser),
		poll:     defaultPollPolicy(opts.Sleeper),
		now:      opts.Now,
		logger:   logger,
	}
	r.open = func(ctx context.Context) (imapSession, error) {
		return dialIMAP(ctx, opts.IMAPDialer, cfg)
	}

	return r
}

// Fetch searches the mailbox for a verification email addressed to the account.
//
// Execution flow:
//  1. Connect using TLS and authenticate.
//  2. Send IMAP ID when the provider requires it.
//  3. Select the configured folder and search: either by To header, or for
//     identifying providers by today's unseen messages.
//  4. Walk found messages newest first, extract the plain text body with
//     the account address removed and look for a code.
//  5. Delete and expunge the matching message.
//
// An empty search result is retried by reconnecting after a short delay.
func (r *imapRetriever) Fetch(ctx context.Context) (*mailer.Message, error) {
	return r.poll.run(ctx, r.check)
}

func (r *imapRetriever) check(ctx context.Context) (*mailer.Message, error) {
	sess, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			r.logger.DebugContext(ctx, "imap logout failed", slog.Any("error", err))
		}
	}()

	if r.identify {
		if err = sess.Identify(r.identity()); err != nil {
			return nil, mailer.Transient("imap id", err)
		}
	}

	if err = sess.Select(r.folder); err != nil {
		return nil, mailer.Transient("select "+r.folder, err)
	}

	uids, err := sess.Search(r.criteria())
	if err != nil {
		return nil, mailer.Transient("search", err)
	}
	if len(uids) == 0 {
		return nil, errMailboxEmpty
	}

	for i := len(uids) - 1; i >= 0; i-- {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		uid := uids[i]
		raw, err := sess.FetchRaw(uid)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to fetch message", slog.Any("uid", uid), slog.Any("error", err))
			continue
		}

		parsed, err := parseMail(bytes.NewReader(raw))
		if err != nil {
			r.logger.WarnContext(ctx, "failed to parse message", slog.Any("uid", uid), slog.Any("error", err))
			continue
		}

		// Date based search can't filter by recipient on the server side.
		if r.identify && !parsed.hasRecipient(r.account) {
			continue
		}

		code, ok := r.extractor.Extract(parsed.Body, r.account)
		if !ok {
			continue
		}

		if err = sess.Delete(uid); err != nil {
			r.logger.WarnContext(ctx, "failed to delete used message", slog.Any("uid", uid), slog.Any("error", err))
		}

		msg := parsed.Message
		msg.ID = strconv.FormatUint(uint64(uid), 10)
		msg.Code = code
		return &msg, nil
	}

	return nil, mailer.ErrNoCodeFound
}

func (r *imapRetriever) criteria() *imap.SearchCriteria {
	if !r.identify {
		return &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   "To",
				Value: r.account,
			}},
		}
	}

	// Equivalent of "ON <today> UNSEEN". Mail delivered before midnight
	// is not found after the date changes.
	now := r.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return &imap.SearchCriteria{
		Since:   today,
		Before:  today.AddDate(0, 0, 1),
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
}

func (r *imapRetriever) identity() *imap.IDData {
	name, _, _ := strings.Cut(r.user, "@")
	return &imap.IDData{
		Name:    name,
		Version: "1.0.0",
		Vendor:  "mailcode",
	}
}

func requiresIdentification(user string) bool {
	user = strings.ToLower(user)
	for _, domain := range identifyingDomains {
		if strings.HasSuffix(user, domain) {
			return true
		}
	}
	return false
}

// dialIMAP connects and logs in. The connection is closed as soon as ctx
// is done, which fails any command still waiting for the server.
func dialIMAP(ctx context.Context, dialer ImapDialer, cfg config.Mailbox) (imapSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address := net.JoinHostPort(cfg.IMAPServer, strconv.Itoa(cfg.IMAPPort))

	client, err := dialer.DialTLS(address, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	if err != nil {
		return nil, mailer.Transient("dial TLS", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err = client.Login(cfg.IMAPUser, cfg.IMAPPass).Wait(); err != nil {
		stop()
		_ = client.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, mailer.Transient("login", err)
	}

	return &imapClientSession{client: client, stop: stop}, nil
}

// imapClientSession implements imapSession on top of imapclient.Client.
type imapClientSession struct {
	client *imapclient.Client
	stop   func() bool
}

func (s *imapClientSession) Identify(id *imap.IDData) error {
	_, err := s.client.ID(id).Wait()
	return err
}

func (s *imapClientSession) Select(folder string) error {
	_, err := s.client.Select(folder, nil).Wait()
	return err
}

func (s *imapClientSession) Search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (s *imapClientSession) FetchRaw(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if closeErr := fetchCmd.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("collect message data: %w", err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, errors.New("message body section is nil")
	}

	return raw, nil
}

func (s *imapClientSession) Delete(uid imap.UID) error {
	err := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("store deleted flag: %w", err)
	}

	if err = s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}

	return nil
}

func (s *imapClientSession) Logout() error {
	if !s.stop() {
		// Already closed by context cancellation.
		return nil
	}

	err := s.client.Logout().Wait()
	_ = s.client.Close()
	return err
}
