// Package config loads the daemon's configuration (per-network config
// blocks plus the relay link DB location) via viper, so a file change
// plus SIGHUP can be picked up without restarting. Top-level keys can be
// overridden through RELAYD_-prefixed environment variables; fields inside
// the networks list (recvpass, sendpass, ...) are not reachable that way
// and come from the file only.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Protocol identifies which protocol driver a Network uses.
type Protocol string

const (
	ProtocolTS6       Protocol = "ts6"
	ProtocolHybrid     Protocol = "hybrid"
	ProtocolInspIRCd   Protocol = "inspircd"
	ProtocolP10        Protocol = "p10"
	ProtocolUnreal     Protocol = "unreal"
	ProtocolNgIRCd     Protocol = "ngircd"
	ProtocolClientbot  Protocol = "clientbot"
)

// Network is one configured IRC network link.
type Network struct {
	Name         string   `mapstructure:"name"`
	IP           string   `mapstructure:"ip"`
	Port         int      `mapstructure:"port"`
	RecvPass     string   `mapstructure:"recvpass"`
	SendPass     string   `mapstructure:"sendpass"`
	Protocol     Protocol `mapstructure:"protocol"`
	Hostname     string   `mapstructure:"hostname"`
	SID          string   `mapstructure:"sid"`
	SIDRange     string   `mapstructure:"sidrange"`
	NetName      string   `mapstructure:"netname"`
	Channels     []string `mapstructure:"channels"`
	MaxNickLen   int      `mapstructure:"maxnicklen"`
	PingFreq     int      `mapstructure:"pingfreq"` // seconds
	AutoConnect  int      `mapstructure:"autoconnect"` // seconds; negative = off

	SSL             bool   `mapstructure:"ssl"`
	SSLCertFile     string `mapstructure:"ssl_certfile"`
	SSLKeyFile      string `mapstructure:"ssl_keyfile"`
	SSLFingerprint  string `mapstructure:"ssl_fingerprint"` // SHA1 hex

	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	Autoperform []string `mapstructure:"autoperform"`

	RelayTagNicks   bool `mapstructure:"relay_tag_nicks"`
	StripFormatting bool `mapstructure:"strip_formatting"`
	ShowNetsplits   bool `mapstructure:"show_netsplits"`

	ClientbotOpers bool   `mapstructure:"clientbot_opers"`
	ClientbotNick  string `mapstructure:"clientbot_nick"`
	ClientbotIdent string `mapstructure:"clientbot_ident"`
}

// PingInterval returns PingFreq as a time.Duration, defaulting to 90s.
func (n Network) PingInterval() time.Duration {
	if n.PingFreq <= 0 {
		return 90 * time.Second
	}
	return time.Duration(n.PingFreq) * time.Second
}

// RelayLinkEntry mirrors one entry of the persisted relay link DB
// used to seed the channel link table on first start.
type RelayLinkEntry struct {
	HomeNetwork string   `json:"home_network" mapstructure:"home_network"`
	Channel     string   `json:"channel" mapstructure:"channel"`
	Links       []string `json:"links" mapstructure:"links"` // "net/#chan"
	Claim       []string `json:"claim" mapstructure:"claim"`
	BlockedNets []string `json:"blocked_nets" mapstructure:"blocked_nets"`
	Creator     string   `json:"creator" mapstructure:"creator"`
	TS          int64    `json:"ts" mapstructure:"ts"`
}

// ServiceBot configures one pseudoservice identity to be
// introduced on every network after its burst completes.
type ServiceBot struct {
	Name     string   `mapstructure:"name"`
	Ident    string   `mapstructure:"ident"`
	Host     string   `mapstructure:"host"`
	Channels []string `mapstructure:"channels"`
	Modes    string   `mapstructure:"modes"`
}

// Config is the whole daemon configuration.
type Config struct {
	Networks        []Network `mapstructure:"networks"`
	RelayDBPath     string    `mapstructure:"relay_db_path"`
	SpawnLockTimeout int       `mapstructure:"spawn_lock_timeout_seconds"` // default 2
	LogLevel        string    `mapstructure:"log_level"`
	DisconnectAnnounce string `mapstructure:"disconnect_announce"`
	RelayTagNicks   bool     `mapstructure:"relay_tag_nicks"`
	ForcetagNicks   []string `mapstructure:"forcetag_nicks"` // nick globs always tagged
	ServiceBots     []ServiceBot `mapstructure:"service_bots"`
	RelayLinks      []RelayLinkEntry `mapstructure:"relay_links"` // seeds the link DB on first start
}

// SpawnLockTimeoutDuration returns the configured spawn-lock acquire
// timeout, defaulting to 2s.
func (c Config) SpawnLockTimeoutDuration() time.Duration {
	if c.SpawnLockTimeout <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.SpawnLockTimeout) * time.Second
}

// Load reads path (YAML) through viper, applying RELAYD_-prefixed
// environment overrides to top-level keys (e.g. RELAYD_LOG_LEVEL).
// Per-network fields such as recvpass/sendpass/sasl_password live inside
// the networks list and are not overridden from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RELAYD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	return &cfg, nil
}

// Reload re-reads path into a fresh Config for SIGHUP-triggered rehash
// Callers reconcile the returned Config against the running
// network set themselves (connect new, disconnect removed, update live
// serverdata) — Reload itself has no side effects on running connections.
func Reload(path string) (*Config, error) {
	return Load(path)
}
