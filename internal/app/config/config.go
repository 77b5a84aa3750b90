package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProtocolIMAP = "IMAP"
	ProtocolPOP3 = "POP3"

	// DefaultSenderFilter is the no-reply sender verification emails come from.
	DefaultSenderFilter = "no-reply@cursor.sh"
	// AnySender as sender_filter accepts POP3 messages from every sender.
	AnySender = "*"

	defaultTempMailAPI    = "https://tempmail.plus"
	defaultIMAPDir        = "inbox"
	defaultAcquireRetries = 5
	defaultAcquireEvery   = 60 * time.Second
	defaultChallengeTries = 2
	defaultChallengeMin   = time.Second
	defaultChallengeMax   = 2 * time.Second
	defaultScreenshotDir  = "screenshots"

	// disabledTempMail switches temp mailbox mode off in favour of IMAP/POP3.
	disabledTempMail = "null"
)

// Mode is the mailbox access mode selected by Mailbox.Mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeTempMail
	ModeIMAP
	ModePOP3
)

func (m Mode) String() string {
	switch m {
	case ModeTempMail:
		return "tempmail"
	case ModeIMAP:
		return "imap"
	case ModePOP3:
		return "pop3"
	default:
		return "unknown"
	}
}

type Config struct {
	LogLevel  int             `yaml:"log_level"` // Logging level (e.g., -4: debug, 0: info, etc.).
	Mailbox   Mailbox         `yaml:"mailbox"`   // Mailbox which receives verification emails.
	Acquire   AcquireConfig   `yaml:"acquire"`   // Verification code polling budget.
	Challenge ChallengeConfig `yaml:"challenge"` // Challenge widget retry budget.
}

type Mailbox struct {
	TempMailUser string `yaml:"temp_mail_user"` // Temp mailbox user part (before '@'). "null" disables temp mailbox mode.
	TempMailExt  string `yaml:"temp_mail_ext"`  // Temp mailbox extension, for example "@mailto.plus".
	TempMailPIN  string `yaml:"temp_mail_pin"`  // Temp mailbox PIN protecting the inbox.
	TempMailAPI  string `yaml:"temp_mail_api"`  // Temp mailbox API base URL.
	Domain       string `yaml:"domain"`         // Domain used for generated account addresses.
	IMAPServer   string `yaml:"imap_server"`    // IMAP or POP3 server host.
	IMAPPort     int    `yaml:"imap_port"`      // IMAP or POP3 server port.
	IMAPUser     string `yaml:"imap_user"`      // Mailbox login.
	IMAPPass     string `yaml:"imap_pass"`      // Mailbox password or app token.
	IMAPDir      string `yaml:"imap_dir"`       // IMAP folder to search in.
	IMAPIdentify bool   `yaml:"imap_identify"`  // Force IMAP ID handshake and date based search.
	Protocol     string `yaml:"protocol"`       // IMAP or POP3.
	SenderFilter string `yaml:"sender_filter"`  // Substring of the sender address POP3 messages must contain, "*" for any sender.
}

type AcquireConfig struct {
	MaxRetries    int           `yaml:"max_retries"`    // Mailbox polling attempts.
	RetryInterval time.Duration `yaml:"retry_interval"` // Delay between polling attempts.
}

type ChallengeConfig struct {
	MaxRetries       int           `yaml:"max_retries"`        // Search/interact/verify cycles before giving up.
	RetryIntervalMin time.Duration `yaml:"retry_interval_min"` // Lower bound of the delay between cycles.
	RetryIntervalMax time.Duration `yaml:"retry_interval_max"` // Upper bound of the delay between cycles.
	ScreenshotDir    string        `yaml:"screenshot_dir"`     // Directory for diagnostic screenshots.
}

func LoadConfig(cfgFilepath, envFilepath string) (Config, error) {
	var cfg Config

	if _, err := os.Stat(envFilepath); err == nil {
		if err = godotenv.Load(envFilepath); err != nil {
			return cfg, fmt.Errorf("unable to load environment variables from file: %w", err)
		}
	}

	//nolint:gosec
	fileBytes, err := os.ReadFile(cfgFilepath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("configuration file at this cfgFilepath doesn't exist: %w", err)
		case errors.Is(err, os.ErrPermission):
			return cfg, fmt.Errorf("permission denied for accessing configuration file: %w", err)
		default:
			return cfg, fmt.Errorf("unexpected error during reading configuration file: %w", err)
		}
	}

	cfg, err = Parse(fileBytes)
	if err != nil {
		return cfg, err
	}

	if err = cfg.Mailbox.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid mailbox configuration: %w", err)
	}

	return cfg, nil
}

// Parse expands environment variables in raw YAML and decodes it,
// filling unset fields with defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config

	envExpanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(envExpanded), &cfg); err != nil {
		return cfg, fmt.Errorf("unable to unmarshal configuration file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Mailbox.TempMailUser = strings.TrimSpace(c.Mailbox.TempMailUser)
	if at := strings.Index(c.Mailbox.TempMailUser, "@"); at >= 0 {
		c.Mailbox.TempMailUser = c.Mailbox.TempMailUser[:at]
	}
	if c.Mailbox.TempMailAPI == "" {
		c.Mailbox.TempMailAPI = defaultTempMailAPI
	}
	if c.Mailbox.IMAPDir == "" {
		c.Mailbox.IMAPDir = defaultIMAPDir
	}
	if c.Mailbox.Protocol == "" {
		c.Mailbox.Protocol = ProtocolPOP3
	}
	if c.Mailbox.SenderFilter == "" {
		c.Mailbox.SenderFilter = DefaultSenderFilter
	}

	if c.Acquire.MaxRetries <= 0 {
		c.Acquire.MaxRetries = defaultAcquireRetries
	}
	if c.Acquire.RetryInterval <= 0 {
		c.Acquire.RetryInterval = defaultAcquireEvery
	}

	if c.Challenge.MaxRetries <= 0 {
		c.Challenge.MaxRetries = defaultChallengeTries
	}
	if c.Challenge.RetryIntervalMin <= 0 {
		c.Challenge.RetryIntervalMin = defaultChallengeMin
	}
	if c.Challenge.RetryIntervalMax < c.Challenge.RetryIntervalMin {
		c.Challenge.RetryIntervalMax = max(defaultChallengeMax, c.Challenge.RetryIntervalMin)
	}
	if c.Challenge.ScreenshotDir == "" {
		c.Challenge.ScreenshotDir = defaultScreenshotDir
	}
}

// Mode reports which mailbox variant the configuration selects.
// It returns ModeUnknown when zero or more than one variant is configured.
func (m Mailbox) Mode() Mode {
	tempMail := m.TempMailUser != "" && m.TempMailUser != disabledTempMail
	server := m.IMAPServer != ""

	switch {
	case tempMail && !server:
		return ModeTempMail
	case server && !tempMail && strings.EqualFold(m.Protocol, ProtocolIMAP):
		return ModeIMAP
	case server && !tempMail && (m.Protocol == "" || strings.EqualFold(m.Protocol, ProtocolPOP3)):
		return ModePOP3
	default:
		return ModeUnknown
	}
}

// Validate checks that exactly one mailbox variant is configured
// and that all of its required fields are present.
func (m Mailbox) Validate() error {
	tempMail := m.TempMailUser != "" && m.TempMailUser != disabledTempMail
	server := m.IMAPServer != ""

	switch {
	case tempMail && server:
		return errors.New("both temp mailbox and imap_server are configured, set temp_mail_user to \"null\" to use IMAP/POP3")
	case !tempMail && !server:
		return errors.New("no mailbox configured, set temp_mail_user or imap_server")
	}

	if tempMail {
		if m.TempMailExt == "" {
			return errors.New("temp_mail_ext is required for temp mailbox")
		}
		return nil
	}

	if !strings.EqualFold(m.Protocol, ProtocolIMAP) && !strings.EqualFold(m.Protocol, ProtocolPOP3) && m.Protocol != "" {
		return fmt.Errorf("unsupported protocol %q, expected IMAP or POP3", m.Protocol)
	}

	var missing []string
	if m.IMAPPort <= 0 {
		missing = append(missing, "imap_port")
	}
	if m.IMAPUser == "" {
		missing = append(missing, "imap_user")
	}
	if m.IMAPPass == "" {
		missing = append(missing, "imap_pass")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Account returns the address verification emails are sent to.
// A bare name is completed with Domain.
func (m Mailbox) Account(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "@") || m.Domain == "" {
		return name
	}
	return name + "@" + strings.TrimPrefix(m.Domain, "@")
}

// TempMailAddress returns the full temp mailbox address.
func (m Mailbox) TempMailAddress() string {
	return m.TempMailUser + m.TempMailExt
}
