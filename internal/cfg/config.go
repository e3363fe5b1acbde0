package cfg

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const (
	DefGitlabWebhookEndpoint = "/listener/gitlab"
	DefMetricsEndpoint       = "/metrics"
	DefLogFormat             = "logfmt"
	DefLogTimeKey            = "time_iso8601"
	DefLogLevel              = "info"
	DefMailDrainSchedule     = "@every 30s"
	DefMailBatchSize         = 20
	DefMailMaxAttempts       = 10
)

type Config struct {
	HTTPListenAddr            string    `toml:"http_server_listen_addr" yaml:"http_server_listen_addr"`
	HTTPSListenAddr           string    `toml:"https_server_listen_addr" yaml:"https_server_listen_addr"`
	HTTPSCertFile             string    `toml:"https_ssl_cert_file" yaml:"https_ssl_cert_file"`
	HTTPSKeyFile              string    `toml:"https_ssl_key_file" yaml:"https_ssl_key_file"`
	HTTPGitlabWebhookEndpoint string    `toml:"gitlab_webhook_endpoint" yaml:"gitlab_webhook_endpoint"`
	GitlabWebhookSecret       string    `toml:"gitlab_webhook_secret" yaml:"gitlab_webhook_secret"`
	MetricsEndpoint           string    `toml:"metrics_endpoint" yaml:"metrics_endpoint"`
	LogFormat                 string    `toml:"log_format" yaml:"log_format"`
	LogTimeKey                string    `toml:"log_time_key" yaml:"log_time_key"`
	LogLevel                  string    `toml:"log_level" yaml:"log_level"`
	MailQueue                 MailQueue `toml:"mail_queue" yaml:"mail_queue"`
	Rules                     []*Rule   `toml:"rule" yaml:"rule"`
}

// MailQueue configures the queue that emails_on_push actions write to and
// the mailer that sends the queued mails.
// The mail queue is disabled when Database is empty.
type MailQueue struct {
	Database      string `toml:"database" yaml:"database"`
	DrainSchedule string `toml:"drain_schedule" yaml:"drain_schedule"`
	BatchSize     int    `toml:"batch_size" yaml:"batch_size"`
	MaxAttempts   int    `toml:"max_attempts" yaml:"max_attempts"`
	// StatusEndpoint is the HTTP path of the queue status page. The page
	// is not served when it is empty. It lists recipients and delivery
	// errors and has no authentication, access to it must be restricted
	// by the operator.
	StatusEndpoint string `toml:"status_endpoint" yaml:"status_endpoint"`
	SMTP           SMTP   `toml:"smtp" yaml:"smtp"`
}

type SMTP struct {
	Addr     string `toml:"addr" yaml:"addr"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	From     string `toml:"from" yaml:"from"`
}

type Rule struct {
	Name        string           `toml:"name" yaml:"name"`
	EventKinds  []string         `toml:"event_kinds" yaml:"event_kinds"`
	FilterQuery string           `toml:"filter_query" yaml:"filter_query"`
	Actions     []map[string]any `toml:"action" yaml:"action"`
}

// Format is the encoding of a configuration file.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatFromPath returns FormatYAML for files with a .yaml or .yml
// extension and FormatTOML for all others.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

func Load(reader io.Reader, format Format) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &result)
	case FormatYAML:
		err = yaml.Unmarshal(data, &result)
	default:
		return nil, fmt.Errorf("unsupported config format: %d", format)
	}
	if err != nil {
		return nil, err
	}

	result.setDefaults()

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) setDefaults() {
	if c.HTTPGitlabWebhookEndpoint == "" {
		c.HTTPGitlabWebhookEndpoint = DefGitlabWebhookEndpoint
	}

	if c.MetricsEndpoint == "" {
		c.MetricsEndpoint = DefMetricsEndpoint
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.MailQueue.DrainSchedule == "" {
		c.MailQueue.DrainSchedule = DefMailDrainSchedule
	}

	if c.MailQueue.BatchSize <= 0 {
		c.MailQueue.BatchSize = DefMailBatchSize
	}

	if c.MailQueue.MaxAttempts <= 0 {
		c.MailQueue.MaxAttempts = DefMailMaxAttempts
	}
}

func (c *Config) validate() error {
	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		return errors.New("https_server_listen_addr is set, https_ssl_cert_file and https_ssl_key_file must also be set")
	}

	if c.MailQueue.Database != "" && c.MailQueue.SMTP.Addr == "" {
		return errors.New("mail_queue: database is set but smtp.addr is empty")
	}

	if c.MailQueue.Database != "" && c.MailQueue.SMTP.From == "" {
		return errors.New("mail_queue: database is set but smtp.from is empty")
	}

	if c.MailQueue.StatusEndpoint != "" && !strings.HasPrefix(c.MailQueue.StatusEndpoint, "/") {
		return fmt.Errorf("mail_queue: status_endpoint %q must start with /", c.MailQueue.StatusEndpoint)
	}

	names := make(map[string]struct{}, len(c.Rules))
	for i, r := range c.Rules {
		if r == nil {
			return fmt.Errorf("rule %d: is empty", i)
		}

		if r.Name == "" {
			return fmt.Errorf("rule %d: missing field: 'name'", i)
		}

		if _, exists := names[r.Name]; exists {
			return fmt.Errorf("rule %s: name is not unique", r.Name)
		}
		names[r.Name] = struct{}{}
	}

	return nil
}
