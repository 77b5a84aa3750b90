package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
mailbox:
  temp_mail_user: "someone@mailto.plus"
  temp_mail_ext: "@mailto.plus"
`))
	require.NoError(t, err)

	assert.Equal(t, "someone", cfg.Mailbox.TempMailUser)
	assert.Equal(t, "someone@mailto.plus", cfg.Mailbox.TempMailAddress())
	assert.Equal(t, defaultTempMailAPI, cfg.Mailbox.TempMailAPI)
	assert.Equal(t, "inbox", cfg.Mailbox.IMAPDir)
	assert.Equal(t, ProtocolPOP3, cfg.Mailbox.Protocol)
	assert.Equal(t, DefaultSenderFilter, cfg.Mailbox.SenderFilter)
	assert.Equal(t, 5, cfg.Acquire.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Acquire.RetryInterval)
	assert.Equal(t, 2, cfg.Challenge.MaxRetries)
	assert.Equal(t, time.Second, cfg.Challenge.RetryIntervalMin)
	assert.Equal(t, 2*time.Second, cfg.Challenge.RetryIntervalMax)
	assert.Equal(t, ModeTempMail, cfg.Mailbox.Mode())
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("MAILCODE_TEST_PASS", "s3cret")

	cfg, err := Parse([]byte(`
mailbox:
  temp_mail_user: "null"
  imap_server: imap.example.com
  imap_port: 993
  imap_user: user@example.com
  imap_pass: ${MAILCODE_TEST_PASS}
  protocol: imap
acquire:
  max_retries: 3
  retry_interval: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Mailbox.IMAPPass)
	assert.Equal(t, ModeIMAP, cfg.Mailbox.Mode())
	assert.Equal(t, 3, cfg.Acquire.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Acquire.RetryInterval)
	assert.NoError(t, cfg.Mailbox.Validate())
}

func TestMailboxValidate(t *testing.T) {
	tests := []struct {
		name    string
		mailbox Mailbox
		mode    Mode
		wantErr bool
	}{
		{
			name:    "temp mailbox",
			mailbox: Mailbox{TempMailUser: "user", TempMailExt: "@mailto.plus"},
			mode:    ModeTempMail,
		},
		{
			name:    "temp mailbox without extension",
			mailbox: Mailbox{TempMailUser: "user"},
			mode:    ModeTempMail,
			wantErr: true,
		},
		{
			name:    "pop3 is default protocol",
			mailbox: Mailbox{TempMailUser: "null", IMAPServer: "pop.example.com", IMAPPort: 995, IMAPUser: "u", IMAPPass: "p"},
			mode:    ModePOP3,
		},
		{
			name:    "imap",
			mailbox: Mailbox{IMAPServer: "imap.example.com", IMAPPort: 993, IMAPUser: "u", IMAPPass: "p", Protocol: "IMAP"},
			mode:    ModeIMAP,
		},
		{
			name:    "both modes",
			mailbox: Mailbox{TempMailUser: "user", TempMailExt: "@x", IMAPServer: "imap.example.com"},
			mode:    ModeUnknown,
			wantErr: true,
		},
		{
			name:    "nothing configured",
			mailbox: Mailbox{TempMailUser: "null"},
			mode:    ModeUnknown,
			wantErr: true,
		},
		{
			name:    "missing credentials",
			mailbox: Mailbox{IMAPServer: "imap.example.com", Protocol: "IMAP"},
			mode:    ModeIMAP,
			wantErr: true,
		},
		{
			name:    "unsupported protocol",
			mailbox: Mailbox{IMAPServer: "imap.example.com", IMAPPort: 993, IMAPUser: "u", IMAPPass: "p", Protocol: "JMAP"},
			mode:    ModeUnknown,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mode, tt.mailbox.Mode())

			err := tt.mailbox.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, ".env")

	require.NoError(t, os.WriteFile(envPath, []byte("MAILCODE_TEST_USER=fromenv\n"), 0o600))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
mailbox:
  temp_mail_user: ${MAILCODE_TEST_USER}
  temp_mail_ext: "@mailto.plus"
`), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MAILCODE_TEST_USER") })

	cfg, err := LoadConfig(cfgPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "fromenv@mailto.plus", cfg.Mailbox.TempMailAddress())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseKeepsExplicitSenderFilter(t *testing.T) {
	cfg, err := Parse([]byte("mailbox:\n  sender_filter: \"*\"\n"))
	require.NoError(t, err)
	assert.Equal(t, AnySender, cfg.Mailbox.SenderFilter)
}

func TestMailboxAccount(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		in     string
		want   string
	}{
		{name: "bare name", domain: "example.com", in: "john", want: "john@example.com"},
		{name: "domain with at", domain: "@example.com", in: "john", want: "john@example.com"},
		{name: "full address", domain: "example.com", in: "john@other.example", want: "john@other.example"},
		{name: "no domain", in: "john", want: "john"},
		{name: "empty", domain: "example.com", in: " ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mailbox{Domain: tt.domain}.Account(tt.in))
		})
	}
}
