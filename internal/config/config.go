// Package config provides configuration types and loading for relayclaw.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Agent    AgentConfig    `json:"agent"`
	Guard    GuardConfig    `json:"guard"`
	Channels ChannelsConfig `json:"channels"`
	Audit    AuditConfig    `json:"audit"`
	Gateway  GatewayConfig  `json:"gateway"`
}

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
	StatePath string `json:"statePath" envconfig:"STATE_PATH"`
}

// AgentConfig groups agent subprocess settings.
type AgentConfig struct {
	Binary         string        `json:"binary" envconfig:"AGENT_BINARY"`
	Timeout        time.Duration `json:"timeout" envconfig:"AGENT_TIMEOUT"`
	HistoryWindow  int           `json:"historyWindow" envconfig:"HISTORY_WINDOW"`
	MaxResponseLen int           `json:"maxResponseLen" envconfig:"MAX_RESPONSE_LEN"`
	ActivityGap    time.Duration `json:"activityGap" envconfig:"ACTIVITY_GAP"`
}

// GuardConfig groups content-safety settings.
type GuardConfig struct {
	RateLimitPerHour int  `json:"rateLimitPerHour" envconfig:"RATE_LIMIT_PER_HOUR"`
	RequireApproval  bool `json:"requireApproval" envconfig:"REQUIRE_APPROVAL"`
}

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Slack    SlackConfig    `json:"slack"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled          bool     `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	AllowFrom        []string `json:"allowFrom"`
	DropUnauthorized bool     `json:"dropUnauthorized" envconfig:"WHATSAPP_DROP_UNAUTHORIZED"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string   `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string   `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	AllowFrom []string `json:"allowFrom"`
}

// AuditConfig configures the audit event sinks.
type AuditConfig struct {
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"AUDIT_KAFKA_TOPIC"`
}

// GatewayConfig contains gateway loop settings.
type GatewayConfig struct {
	PollInterval time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	DedupTTL     time.Duration `json:"dedupTTL" envconfig:"DEDUP_TTL"`
}

// Default returns a config populated with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary:         "claude",
			Timeout:        10 * time.Minute,
			HistoryWindow:  30,
			MaxResponseLen: 4000,
			ActivityGap:    time.Second,
		},
		Guard: GuardConfig{
			RateLimitPerHour: 30,
			RequireApproval:  true,
		},
		Audit: AuditConfig{
			KafkaTopic: "relayclaw.audit",
		},
		Gateway: GatewayConfig{
			PollInterval: 2 * time.Second,
			DedupTTL:     24 * time.Hour,
		},
	}
}

// AllowedSenders merges the allow-lists of all enabled channels.
func (c *Config) AllowedSenders() map[string]bool {
	allowed := make(map[string]bool)
	if c.Channels.WhatsApp.Enabled {
		for _, s := range c.Channels.WhatsApp.AllowFrom {
			allowed[s] = true
		}
	}
	if c.Channels.Slack.Enabled {
		for _, s := range c.Channels.Slack.AllowFrom {
			allowed[s] = true
		}
	}
	return allowed
}
