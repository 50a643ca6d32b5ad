// Package config loads threadrelay settings from JSON, env files and the
// process environment.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration. Env keys are derived with split_words
// under a per-group prefix; explicit envconfig tags are avoided because
// envconfig falls back to the bare tag name (PATH, LEVEL) when the
// prefixed key is unset.
type Config struct {
	Slack  SlackConfig  `json:"slack"`
	Store  StoreConfig  `json:"store"`
	Relay  RelayConfig  `json:"relay"`
	Audit  AuditConfig  `json:"audit"`
	Kafka  KafkaConfig  `json:"kafka"`
	Server ServerConfig `json:"server"`
	Log    LogConfig    `json:"log"`
}

// ---------------------------------------------------------------------------
// Slack
// ---------------------------------------------------------------------------

// SlackConfig holds workspace credentials. AppToken enables Socket Mode;
// SigningSecret enables the HTTP Events API endpoint.
type SlackConfig struct {
	BotToken       string   `json:"botToken" split_words:"true"`
	AppToken       string   `json:"appToken" split_words:"true"`
	SigningSecret  string   `json:"signingSecret" split_words:"true"`
	BotUserID      string   `json:"botUserId" split_words:"true"`
	APIBase        string   `json:"apiBase" split_words:"true"`
	OriginChannels []string `json:"originChannels" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Routing store
// ---------------------------------------------------------------------------

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string   `json:"driver" split_words:"true"`
	Path        string   `json:"path" split_words:"true"`
	DSN         string   `json:"dsn" split_words:"true"`
	OpTimeout   Duration `json:"opTimeout" split_words:"true"`
	SkipMigrate bool     `json:"skipMigrate" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Relay behaviour
// ---------------------------------------------------------------------------

type RelayConfig struct {
	StartMarker      string   `json:"startMarker" split_words:"true"`
	EndMarker        string   `json:"endMarker" split_words:"true"`
	DedupOrigins     bool     `json:"dedupOrigins" split_words:"true"`
	LookupTimeout    Duration `json:"lookupTimeout" split_words:"true"`
	SendTimeout      Duration `json:"sendTimeout" split_words:"true"`
	PermalinkTimeout Duration `json:"permalinkTimeout" split_words:"true"`
	Workers          int      `json:"workers" split_words:"true"`
	QueueSize        int      `json:"queueSize" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Audit notifications
// ---------------------------------------------------------------------------

type AuditConfig struct {
	Enabled                 bool   `json:"enabled" split_words:"true"`
	Channel                 string `json:"channel" split_words:"true"`
	NotifyOriginReplies     bool   `json:"notifyOriginReplies" split_words:"true"`
	NotifyDerivativeReplies bool   `json:"notifyDerivativeReplies" split_words:"true"`
}

// KafkaConfig publishes audit notifications to a topic when Brokers is set.
type KafkaConfig struct {
	Brokers []string `json:"brokers" split_words:"true"`
	Topic   string   `json:"topic" split_words:"true"`
}

type ServerConfig struct {
	ListenAddr string `json:"listenAddr" split_words:"true"`
	EventsPath string `json:"eventsPath" split_words:"true"`
}

type LogConfig struct {
	Level string `json:"level" split_words:"true"`
	JSON  bool   `json:"json" split_words:"true"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:    DriverSQLite,
			Path:      "~/.threadrelay/routing.db",
			OpTimeout: Duration(5 * time.Second),
		},
		Relay: RelayConfig{
			StartMarker:      "Email Recipients",
			EndMarker:        "Email Subject",
			DedupOrigins:     true,
			LookupTimeout:    Duration(5 * time.Second),
			SendTimeout:      Duration(10 * time.Second),
			PermalinkTimeout: Duration(3 * time.Second),
			Workers:          4,
			QueueSize:        100,
		},
		Audit: AuditConfig{
			NotifyOriginReplies:     true,
			NotifyDerivativeReplies: true,
		},
		Kafka: KafkaConfig{
			Topic: "threadrelay.audit",
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:18790",
			EventsPath: "/slack/events",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Duration is a time.Duration that reads "5s" style strings from JSON and
// the environment. Bare JSON numbers are taken as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.Decode(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: expected string or number, got %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}
