// Copyright 2024-2026 Aiku AI

// Package config loads and validates the bridge configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root bridge configuration.
type Config struct {
	Bridge       BridgeConfig       `yaml:"bridge"`
	Registration RegistrationConfig `yaml:"registration"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Channel      ChannelConfig      `yaml:"channel"`
	Limits       LimitsConfig       `yaml:"limits"`
	Ghosts       GhostsConfig       `yaml:"ghosts"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// BridgeConfig covers the Matrix side and global behavior switches.
type BridgeConfig struct {
	// Domain is the homeserver domain used in ghost MXIDs.
	Domain        string `yaml:"domain"`
	HomeserverURL string `yaml:"homeserver_url"`
	// BindAddress and Port are where the appservice HTTP listener serves
	// transactions pushed by the homeserver.
	BindAddress string `yaml:"bind_address"`
	Port        uint16 `yaml:"port"`

	PresenceIntervalMS uint64 `yaml:"presence_interval"`
	DisablePresence    bool   `yaml:"disable_presence"`
	DisableTyping      bool   `yaml:"disable_typing_notifications"`

	EnableSelfServiceBridging bool `yaml:"enable_self_service_bridging"`
	// ProvisioningPowerLevel is the power level required to run bridge
	// commands in a Matrix room. Defaults to 50.
	ProvisioningPowerLevel *int `yaml:"provisioning_power_level"`
	// ProvisioningTimeout is how long to wait for a Slack admin to answer a
	// bridge request, in seconds. Defaults to 300.
	ProvisioningTimeout uint64 `yaml:"provisioning_timeout"`

	UserLimit *uint32 `yaml:"user_limit"`
}

// RegistrationConfig mirrors the appservice registration file.
type RegistrationConfig struct {
	ID              string `yaml:"id"`
	ASToken         string `yaml:"as_token"`
	HSToken         string `yaml:"hs_token"`
	SenderLocalpart string `yaml:"sender_localpart"`
}

// AuthConfig holds the Slack credentials.
type AuthConfig struct {
	// BotToken is the xoxb- token used for all Web API calls.
	BotToken string `yaml:"bot_token"`
	// AppToken is the xapp- token required for Socket Mode.
	AppToken string `yaml:"app_token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	// URL selects the backend by scheme: sqlite://, postgres://, mysql://.
	URL string `yaml:"url"`
}

// ChannelConfig controls how Slack channel state is mirrored into rooms.
type ChannelConfig struct {
	// NamePattern renders room names from channel metadata. Placeholders:
	// :guild (team name), :name (channel name).
	NamePattern string `yaml:"name_pattern"`
	// RoomAliasPrefix is the localpart prefix of aliases published for
	// bridged rooms.
	RoomAliasPrefix string              `yaml:"room_alias_prefix"`
	DeleteOptions   DeleteOptionsConfig `yaml:"delete_options"`
}

// DeleteOptionsConfig controls unbridge housekeeping.
type DeleteOptionsConfig struct {
	NamePrefix  string `yaml:"name_prefix"`
	TopicPrefix string `yaml:"topic_prefix"`
	UnsetAlias  bool   `yaml:"unset_room_alias"`
}

type LimitsConfig struct {
	// SlackSendDelayMS is slept before every Slack send while holding the
	// send lock, keeping the bridge under Slack's per-channel rate limit.
	SlackSendDelayMS uint64 `yaml:"slack_send_delay"`
	// RoomCount caps bridged rooms. Negative disables the cap.
	RoomCount int `yaml:"room_count"`
	// MatrixEventAgeLimitMS drops Matrix events older than this on arrival.
	MatrixEventAgeLimitMS uint64 `yaml:"matrix_event_age_limit_ms"`
}

// GhostsConfig controls the Matrix ghost users the bridge creates for
// Slack users.
type GhostsConfig struct {
	// UsernamePrefix is the localpart prefix of ghost MXIDs. It is also the
	// namespace the registration must claim.
	UsernamePrefix string `yaml:"username_prefix"`
	// DisplaynameTemplate renders ghost display names. Fields: .Name, .ID.
	DisplaynameTemplate string `yaml:"displayname_template"`

	displaynameTemplate *template.Template `yaml:"-"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DisplaynameParams holds the parameters for rendering the ghost
// displayname template.
type DisplaynameParams struct {
	Name string
	ID   string
}

// Load reads, defaults and validates the configuration at path. Token
// fields may be overridden from the environment (SLACK_BOT_TOKEN,
// SLACK_APP_TOKEN, AS_TOKEN, HS_TOKEN).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Auth.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Auth.AppToken = v
	}
	if v := os.Getenv("AS_TOKEN"); v != "" {
		c.Registration.ASToken = v
	}
	if v := os.Getenv("HS_TOKEN"); v != "" {
		c.Registration.HSToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Bridge.BindAddress == "" {
		c.Bridge.BindAddress = "0.0.0.0"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 9005
	}
	if c.Bridge.PresenceIntervalMS == 0 {
		c.Bridge.PresenceIntervalMS = 500
	}
	if c.Bridge.ProvisioningTimeout == 0 {
		c.Bridge.ProvisioningTimeout = 300
	}
	if c.Registration.SenderLocalpart == "" {
		c.Registration.SenderLocalpart = "slackbot"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.URL == "" {
		c.Database.URL = "sqlite://bridge.db"
	}
	if c.Channel.NamePattern == "" {
		c.Channel.NamePattern = "[Slack] :guild :name"
	}
	if c.Channel.RoomAliasPrefix == "" {
		c.Channel.RoomAliasPrefix = "_slack_"
	}
	if c.Limits.SlackSendDelayMS == 0 {
		c.Limits.SlackSendDelayMS = 1500
	}
	if c.Limits.RoomCount == 0 {
		c.Limits.RoomCount = -1
	}
	if c.Limits.MatrixEventAgeLimitMS == 0 {
		c.Limits.MatrixEventAgeLimitMS = 900_000
	}
	if c.Ghosts.UsernamePrefix == "" {
		c.Ghosts.UsernamePrefix = "_slack_"
	}
	if c.Ghosts.DisplaynameTemplate == "" {
		c.Ghosts.DisplaynameTemplate = "{{.Name}} (Slack)"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9006"
	}
}

// Validate checks the fields the bridge cannot run without.
func (c *Config) Validate() error {
	if c.Bridge.Domain == "" {
		return fmt.Errorf("bridge.domain cannot be empty")
	}
	if c.Bridge.HomeserverURL == "" {
		return fmt.Errorf("bridge.homeserver_url cannot be empty")
	}
	if c.Registration.ID == "" {
		return fmt.Errorf("registration.id cannot be empty")
	}
	if c.Registration.ASToken == "" {
		return fmt.Errorf("registration.as_token cannot be empty")
	}
	if c.Registration.HSToken == "" {
		return fmt.Errorf("registration.hs_token cannot be empty")
	}
	if c.Auth.BotToken == "" {
		return fmt.Errorf("auth.bot_token cannot be empty")
	}
	if c.Auth.AppToken == "" {
		return fmt.Errorf("auth.app_token cannot be empty (Socket Mode needs an xapp- token)")
	}
	return nil
}

// PostProcess compiles templates after loading.
func (c *Config) PostProcess() error {
	var err error
	c.Ghosts.displaynameTemplate, err = template.New("displayname").Parse(c.Ghosts.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("invalid ghosts.displayname_template: %w", err)
	}
	return nil
}

// FormatDisplayname generates a ghost display name from the template.
func (c *GhostsConfig) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf strings.Builder
	if err := c.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Name
	}
	return buf.String()
}

// ProvisioningLevel returns the power level required for bridge commands.
func (c *BridgeConfig) ProvisioningLevel() int {
	if c.ProvisioningPowerLevel != nil {
		return *c.ProvisioningPowerLevel
	}
	return 50
}
