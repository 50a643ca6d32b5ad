package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".threadrelay"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("THREADRELAY_CONFIG")); explicit != "" {
		return ExpandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("THREADRELAY_HOME")); h != "" {
		return ExpandHome(h)
	}
	return os.UserHomeDir()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load builds the effective configuration: defaults, then the JSON file,
// then env files, then THREADRELAY_* variables. The conventional
// SLACK_BOT_TOKEN, SLACK_APP_TOKEN and SLACK_SIGNING_SECRET fill any
// credential still empty.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFiles()

	path, err := ConfigPath()
	if err == nil {
		data, readErr := os.ReadFile(path)
		switch {
		case readErr == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(readErr):
			return nil, readErr
		}
	}

	overlays := []struct {
		prefix string
		target any
	}{
		{"THREADRELAY_SLACK", &cfg.Slack},
		{"THREADRELAY_STORE", &cfg.Store},
		{"THREADRELAY_RELAY", &cfg.Relay},
		{"THREADRELAY_AUDIT", &cfg.Audit},
		{"THREADRELAY_KAFKA", &cfg.Kafka},
		{"THREADRELAY_SERVER", &cfg.Server},
		{"THREADRELAY_LOG", &cfg.Log},
	}
	for _, o := range overlays {
		if err := envconfig.Process(o.prefix, o.target); err != nil {
			return nil, fmt.Errorf("env %s_*: %w", o.prefix, err)
		}
	}

	fillFromEnv(&cfg.Slack.BotToken, "SLACK_BOT_TOKEN")
	fillFromEnv(&cfg.Slack.AppToken, "SLACK_APP_TOKEN")
	fillFromEnv(&cfg.Slack.SigningSecret, "SLACK_SIGNING_SECRET")

	normalize(cfg)
	return cfg, nil
}

func fillFromEnv(dst *string, key string) {
	if strings.TrimSpace(*dst) != "" {
		return
	}
	*dst = strings.TrimSpace(os.Getenv(key))
}

func normalize(cfg *Config) {
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Slack.OriginChannels = compact(cfg.Slack.OriginChannels)
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)
	if cfg.Server.EventsPath != "" && !strings.HasPrefix(cfg.Server.EventsPath, "/") {
		cfg.Server.EventsPath = "/" + cfg.Server.EventsPath
	}
}

func compact(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate reports every setting that would keep the relay from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.botToken is required"))
	}
	if c.Slack.AppToken == "" && c.Slack.SigningSecret == "" {
		errs = append(errs, errors.New("one of slack.appToken or slack.signingSecret is required"))
	}
	if c.Slack.AppToken != "" && !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		errs = append(errs, errors.New("slack.appToken must be an app-level token (xapp-)"))
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres", c.Store.Driver))
	}
	if strings.TrimSpace(c.Relay.StartMarker) == "" || strings.TrimSpace(c.Relay.EndMarker) == "" {
		errs = append(errs, errors.New("relay.startMarker and relay.endMarker must be set"))
	}
	if c.Relay.Workers < 1 {
		errs = append(errs, errors.New("relay.workers must be at least 1"))
	}
	if c.Relay.QueueSize < 1 {
		errs = append(errs, errors.New("relay.queueSize must be at least 1"))
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"store.opTimeout", c.Store.OpTimeout},
		{"relay.lookupTimeout", c.Relay.LookupTimeout},
		{"relay.sendTimeout", c.Relay.SendTimeout},
		{"relay.permalinkTimeout", c.Relay.PermalinkTimeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Audit.Enabled && c.Audit.Channel == "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("audit.enabled needs audit.channel or kafka.brokers"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	switch {
	case c.Server.ListenAddr == "" && c.Slack.SigningSecret != "":
		errs = append(errs, errors.New("server.listenAddr is required for the events endpoint"))
	case c.Server.ListenAddr != "":
		if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("server.listenAddr: %w", err))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Slack.BotToken = mask(c.Slack.BotToken)
	out.Slack.AppToken = mask(c.Slack.AppToken)
	out.Slack.SigningSecret = mask(c.Slack.SigningSecret)
	if c.Store.DSN != "" {
		out.Store.DSN = "***"
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:5] + "***"
}
