package retriever

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hickar/mailcode/internal/app/config"
	"github.com/hickar/mailcode/internal/app/mailer"
)

type fakeTempMailAPI struct {
	mu sync.Mutex

	firstID      any
	listResult   bool
	detail       map[string]any
	deleteResult bool

	deleteForms []url.Values
	listQueries []url.Values
}

func (f *fakeTempMailAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp any
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/mails":
		f.listQueries = append(f.listQueries, r.URL.Query())
		resp = map[string]any{"result": f.listResult, "first_id": f.firstID}

	case r.Method == http.MethodGet && r.URL.Path == "/api/mails/12345":
		resp = f.detail

	case r.Method == http.MethodDelete && r.URL.Path == "/api/mails/":
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		f.deleteForms = append(f.deleteForms, form)
		resp = map[string]any{"result": f.deleteResult}

	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTempMailSource(t *testing.T, api *fakeTempMailAPI, sleeper *countingSleeper, account string) *tempMailRetriever {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	src, err := New(config.Mailbox{
		TempMailUser: "box",
		TempMailExt:  "@mailto.plus",
		TempMailPIN:  "4321",
		TempMailAPI:  srv.URL + "/",
	}, account, Options{HTTPClient: srv.Client(), Sleeper: sleeper}, discardLogger())
	require.NoError(t, err)

	return src.(*tempMailRetriever)
}

func TestTempMailFetch(t *testing.T) {
	api := &fakeTempMailAPI{
		listResult: true,
		firstID:    12345,
		detail: map[string]any{
			"result":    true,
			"from_mail": "no-reply@service.example",
			"subject":   "Verify your email",
			"text":      "Hi 135790@example.com, your code is 112233.",
		},
	}
	sleeper := &countingSleeper{}
	src := newTempMailSource(t, api, sleeper, "135790@example.com")

	msg, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "112233", msg.Code)
	assert.Equal(t, "12345", msg.ID)
	assert.Equal(t, "Verify your email", msg.Subject)
	assert.Equal(t, 2, sleeper.count(tmRequestPause))

	require.Len(t, api.listQueries, 1)
	assert.Equal(t, "box@mailto.plus", api.listQueries[0].Get("email"))
	assert.Equal(t, "20", api.listQueries[0].Get("limit"))
	assert.Equal(t, "4321", api.listQueries[0].Get("epin"))
}

func TestTempMailFetchCodeInSubject(t *testing.T) {
	api := &fakeTempMailAPI{
		listResult: true,
		firstID:    "12345",
		detail: map[string]any{
			"result":  true,
			"subject": "Your code: 908070",
			"text":    "Use the code from the subject line.",
		},
	}
	src := newTempMailSource(t, api, &countingSleeper{}, "")

	msg, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "908070", msg.Code)
}

func TestTempMailFetchEmptyInbox(t *testing.T) {
	tests := []struct {
		name       string
		listResult bool
		firstID    any
	}{
		{name: "result false", listResult: false, firstID: 12345},
		{name: "zero first id", listResult: true, firstID: 0},
		{name: "null first id", listResult: true, firstID: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeTempMailAPI{listResult: tt.listResult, firstID: tt.firstID}
			src := newTempMailSource(t, api, &countingSleeper{}, "")

			_, err := src.Fetch(context.Background())
			assert.ErrorIs(t, err, mailer.ErrNoCodeFound)
		})
	}
}

func TestTempMailFetchNoCode(t *testing.T) {
	api := &fakeTempMailAPI{
		listResult: true,
		firstID:    12345,
		detail:     map[string]any{"result": true, "subject": "Welcome", "text": "Thanks for signing up."},
	}
	src := newTempMailSource(t, api, &countingSleeper{}, "")

	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, mailer.ErrNoCodeFound)
}

func TestTempMailFetchProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	src, err := New(config.Mailbox{TempMailUser: "box", TempMailExt: "@mailto.plus", TempMailAPI: srv.URL},
		"", Options{HTTPClient: srv.Client(), Sleeper: &countingSleeper{}}, discardLogger())
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, mailer.IsTransient(err))
}

func TestTempMailConsume(t *testing.T) {
	api := &fakeTempMailAPI{deleteResult: true}
	sleeper := &countingSleeper{}
	src := newTempMailSource(t, api, sleeper, "")

	err := src.Consume(context.Background(), &mailer.Message{ID: "12345"})
	require.NoError(t, err)

	require.Len(t, api.deleteForms, 1)
	assert.Equal(t, "box@mailto.plus", api.deleteForms[0].Get("email"))
	assert.Equal(t, "12345", api.deleteForms[0].Get("first_id"))
	assert.Equal(t, "4321", api.deleteForms[0].Get("epin"))
	assert.Zero(t, sleeper.count(tmDeleteRetryDelay))
}

func TestTempMailConsumeGivesUp(t *testing.T) {
	api := &fakeTempMailAPI{deleteResult: false}
	sleeper := &countingSleeper{}
	src := newTempMailSource(t, api, sleeper, "")

	err := src.Consume(context.Background(), &mailer.Message{ID: "12345"})
	require.Error(t, err)

	assert.Len(t, api.deleteForms, tmDeleteAttempts)
	assert.Equal(t, tmDeleteAttempts-1, sleeper.count(tmDeleteRetryDelay))
}

func TestAcquireSurvivesTempMailDeleteFailure(t *testing.T) {
	api := &fakeTempMailAPI{
		listResult:   true,
		firstID:      12345,
		detail:       map[string]any{"result": true, "subject": "Verify", "text": "Code: 556677"},
		deleteResult: false,
	}
	sleeper := &countingSleeper{}
	src := newTempMailSource(t, api, sleeper, "")

	acquirer := mailer.NewAcquirer(src, mailer.AcquirerOptions{
		MaxRetries:    3,
		RetryInterval: time.Minute,
		Sleeper:       sleeper,
	}, discardLogger())

	got, err := acquirer.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "556677", got)
	assert.Len(t, api.deleteForms, tmDeleteAttempts)
	assert.Zero(t, sleeper.count(time.Minute))
}

func TestTempMailFetchSkipsUndeletedMail(t *testing.T) {
	api := &fakeTempMailAPI{
		listResult:   true,
		firstID:      12345,
		detail:       map[string]any{"result": true, "subject": "Verify", "text": "Code: 556677"},
		deleteResult: false,
	}
	src := newTempMailSource(t, api, &countingSleeper{}, "")

	msg, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Error(t, src.Consume(context.Background(), msg))

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, mailer.ErrNoCodeFound)
	assert.Equal(t, 1, src.consumed.Len())
}
