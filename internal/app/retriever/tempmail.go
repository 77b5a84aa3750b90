package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
	"github.com/hickar/mailcode/internal/pkg/kvstore"
	"github.com/hickar/mailcode/internal/pkg/retry"
)

const (
	tmListLimit        = 20
	tmDeleteAttempts   = 5
	tmDeleteRetryDelay = 500 * time.Millisecond
	tmRequestPause     = 500 * time.Millisecond

	tmMailsPath = "/api/mails"
)

type tempMailRetriever struct {
	client    *http.Client
	baseURL   string
	address   string
	pin       string
	account   string
	extractor mailer.Extractor
	sleeper   retry.Sleeper
	pause     time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// consumed holds IDs of mails already handed out, so a mail the
	// provider failed to delete is not read twice.
	consumed *kvstore.KVStore[string, time.Time]
}

func newTempMailRetriever(cfg config.Mailbox, account string, opts Options, logger *slog.Logger) *tempMailRetriever {
	return &tempMailRetriever{
		client:   opts.HTTPClient,
		baseURL:  strings.TrimRight(cfg.TempMailAPI, "/"),
		address:  cfg.TempMailAddress(),
		pin:      cfg.TempMailPIN,
		account:  account,
		sleeper:  opts.Sleeper,
		pause:    tmRequestPause,
		now:      opts.Now,
		logger:   logger,
		consumed: kvstore.New[string, time.Time](),
	}
}

// Fetch lists the temp mailbox and inspects the newest message.
func (t *tempMailRetriever) Fetch(ctx context.Context) (*mailer.Message, error) {
	var list tmListResponse
	err := t.makeRequest(ctx, http.MethodGet, tmMailsPath, url.Values{
		"email": {t.address},
		"limit": {strconv.Itoa(tmListLimit)},
		"epin":  {t.pin},
	}, &list)
	if err != nil {
		return nil, mailer.Transient("list mails", err)
	}
	if err = t.sleeper.Sleep(ctx, t.pause); err != nil {
		return nil, err
	}

	if !list.Result || list.FirstID.empty() {
		return nil, mailer.ErrNoCodeFound
	}
	if at, seen := t.consumed.Get(string(list.FirstID)); seen {
		t.logger.DebugContext(ctx, "newest mail already consumed",
			slog.String("mail_id", string(list.FirstID)),
			slog.Time("consumed_at", at),
		)
		return nil, mailer.ErrNoCodeFound
	}

	var detail tmDetailResponse
	err = t.makeRequest(ctx, http.MethodGet, tmMailsPath+"/"+url.PathEscape(string(list.FirstID)), url.Values{
		"email": {t.address},
		"epin":  {t.pin},
	}, &detail)
	if err != nil {
		return nil, mailer.Transient("get mail", err)
	}
	if err = t.sleeper.Sleep(ctx, t.pause); err != nil {
		return nil, err
	}

	if !detail.Result {
		return nil, mailer.ErrNoCodeFound
	}

	t.logger.InfoContext(ctx, "found message", slog.String("subject", detail.Subject))

	code, ok := t.extractor.Extract(detail.Text, t.account)
	if !ok {
		code, ok = t.extractor.Extract(detail.Subject, t.account)
	}
	if !ok {
		return nil, mailer.ErrNoCodeFound
	}

	return &mailer.Message{
		ID:      string(list.FirstID),
		From:    detail.From,
		To:      t.address,
		Subject: detail.Subject,
		Body:    detail.Text,
		Code:    code,
	}, nil
}

// Consume deletes msg from the temp mailbox, retrying until the
// provider acknowledges it.
func (t *tempMailRetriever) Consume(ctx context.Context, msg *mailer.Message) error {
	t.consumed.Set(msg.ID, t.now())

	form := url.Values{
		"email":    {t.address},
		"first_id": {msg.ID},
		"epin":     {t.pin},
	}

	var lastErr error
	for attempt := 1; attempt <= tmDeleteAttempts; attempt++ {
		var resp tmResultResponse
		err := t.makeRequest(ctx, http.MethodDelete, tmMailsPath+"/", form, &resp)
		switch {
		case err != nil:
			lastErr = err
		case resp.Result:
			return nil
		default:
			lastErr = errors.New("provider did not confirm deletion")
		}

		if attempt == tmDeleteAttempts {
			break
		}
		if err = t.sleeper.Sleep(ctx, tmDeleteRetryDelay); err != nil {
			return err
		}
	}

	return fmt.Errorf("delete mail %s after %d attempts: %w", msg.ID, tmDeleteAttempts, lastErr)
}

// makeRequest sends params as query string for GET and as form body otherwise,
// then decodes JSON response into out.
func (t *tempMailRetriever) makeRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	target := t.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		target += "?" + params.Encode()
	} else {
		body = bytes.NewBufferString(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

// tmMailID accepts both string and numeric message ids.
type tmMailID string

func (id *tmMailID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = tmMailID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("mail id is neither string nor number: %s", b)
	}
	*id = tmMailID(n.String())
	return nil
}

func (id tmMailID) empty() bool {
	return id == "" || id == "0"
}

type tmListResponse struct {
	Result  bool     `json:"result"`
	FirstID tmMailID `json:"first_id"`
}

type tmDetailResponse struct {
	Result  bool   `json:"result"`
	From    string `json:"from_mail"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type tmResultResponse struct {
	Result bool `json:"result"`
}
