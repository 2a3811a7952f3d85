package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the slurm-proxy server.
type ServerConfig struct {
	Addr          string        // Listen address (default ":5001")
	LogLevel      string        // Log level: debug, info, warn, error
	LogFormat     string        // Log format: text, json
	DBPath        string        // SQLite database path (":memory:" for testing)
	PollInterval  time.Duration // Reconciliation poll interval
	MonitorMaxAge time.Duration // How far back the loop looks for tracked jobs
	TemplateFile  string        // Optional YAML file with extra task templates

	Gateway GatewayConfig `yaml:"gateway"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// GatewayConfig selects and configures the scheduler channels.
type GatewayConfig struct {
	// Primary is "rest" or "ssh". Secondary is optional and attempted once
	// after the primary's retry budget is exhausted on transport failures.
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`

	REST RESTChannelConfig `yaml:"rest"`
	SSH  SSHChannelConfig  `yaml:"ssh"`

	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// RESTChannelConfig configures the SLURM REST API channel.
type RESTChannelConfig struct {
	BaseURL       string `yaml:"base_url"`
	ParserVersion string `yaml:"parser_version"` // data_parser plugin version, e.g. "0.0.42"
	Username      string `yaml:"username"`
	Token         string `yaml:"token"` // X-SLURM-USER-TOKEN; SLURM_JWT env wins
}

// SSHChannelConfig configures the legacy remote-command channel.
type SSHChannelConfig struct {
	Host           string `yaml:"host"`
	User           string `yaml:"user"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// NotifyConfig holds per-transport notification credentials.
type NotifyConfig struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SMTPConfig configures the email transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SlackConfig configures the Slack webhook transport.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig configures the generic webhook transport.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// DefaultServerConfig returns sensible defaults. Env vars override the
// zero-config credentials the same way the flag layer overrides addresses.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":5001",
		LogLevel:      "info",
		LogFormat:     "text",
		PollInterval:  time.Minute,
		MonitorMaxAge: 14 * 24 * time.Hour,
		Gateway: GatewayConfig{
			Primary:     "rest",
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			RetryDelay:  time.Second,
			MaxInFlight: 8,
			REST: RESTChannelConfig{
				ParserVersion: "0.0.42",
			},
		},
	}
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	Gateway *GatewayConfig `yaml:"gateway"`
	Notify  *NotifyConfig  `yaml:"notify"`
}

// LoadFile merges gateway and notification settings from a YAML file into
// cfg. File values replace defaults wholesale per section field that is set.
func LoadFile(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.Gateway != nil {
		merged := cfg.Gateway
		g := fc.Gateway
		if g.Primary != "" {
			merged.Primary = g.Primary
		}
		if g.Secondary != "" {
			merged.Secondary = g.Secondary
		}
		if g.Timeout != 0 {
			merged.Timeout = g.Timeout
		}
		if g.MaxRetries != 0 {
			merged.MaxRetries = g.MaxRetries
		}
		if g.RetryDelay != 0 {
			merged.RetryDelay = g.RetryDelay
		}
		if g.MaxInFlight != 0 {
			merged.MaxInFlight = g.MaxInFlight
		}
		if g.REST.BaseURL != "" {
			merged.REST.BaseURL = g.REST.BaseURL
		}
		if g.REST.ParserVersion != "" {
			merged.REST.ParserVersion = g.REST.ParserVersion
		}
		if g.REST.Username != "" {
			merged.REST.Username = g.REST.Username
		}
		if g.REST.Token != "" {
			merged.REST.Token = g.REST.Token
		}
		if g.SSH.Host != "" {
			merged.SSH = g.SSH
		}
		cfg.Gateway = merged
	}
	if fc.Notify != nil {
		cfg.Notify = *fc.Notify
	}
	return nil
}

// ApplyEnv overlays well-known environment variables onto cfg. Env values
// win over both defaults and the config file, matching how the deployment
// passes credentials.
func ApplyEnv(cfg *ServerConfig) {
	if v := os.Getenv("SLURM_REST_URL"); v != "" {
		cfg.Gateway.REST.BaseURL = v
	}
	if v := os.Getenv("SLURM_JWT"); v != "" {
		cfg.Gateway.REST.Token = v
	}
	if v := os.Getenv("SSH_HOSTNAME"); v != "" {
		cfg.Gateway.SSH.Host = v
	}
	if v := os.Getenv("SSH_USERNAME"); v != "" {
		cfg.Gateway.SSH.User = v
	}
	if v := os.Getenv("SSH_PRIVATE_KEY_PATH"); v != "" {
		cfg.Gateway.SSH.PrivateKeyPath = v
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.Notify.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Notify.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.Slack.WebhookURL = v
	}
}
