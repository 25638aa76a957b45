package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds the mailbox account settings.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password Secret `mapstructure:"password" yaml:"-"`

	// TLS selects implicit TLS (usually port 993). When false the client
	// tries STARTTLS, or a plaintext session when Insecure is set.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// InsecureSkipVerify disables certificate verification. Only for test
	// servers with self-signed certificates.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// Mailbox is the folder to watch.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// IdleRefresh restarts IDLE periodically so NAT boxes and servers do
	// not drop a silent connection.
	IdleRefresh time.Duration `mapstructure:"idle_refresh" yaml:"idle_refresh"`

	// PollInterval is the sweep period used instead of IDLE when the server
	// lacks it or DisableIdle is set.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DisableIdle  bool          `mapstructure:"disable_idle" yaml:"disable_idle"`
}

// APIConfig holds the downstream workflow API settings.
type APIConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   Secret        `mapstructure:"token" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ReconnectConfig tunes the connection supervisor.
type ReconnectConfig struct {
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval" yaml:"liveness_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	UnreachableRetry time.Duration `mapstructure:"unreachable_retry" yaml:"unreachable_retry"`
}

// WorkerConfig sizes the message processing pool.
type WorkerConfig struct {
	Count int `mapstructure:"count" yaml:"count"`
	Queue int `mapstructure:"queue" yaml:"queue"`
}

// HTTPConfig holds the health/metrics listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`

	// RateLimit is the sustained requests per second allowed per client
	// on POST /process-emails; RateBurst is the bucket size.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// AuditConfig enables the external call journal.
type AuditConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP      IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Workers   WorkerConfig    `mapstructure:"workers" yaml:"workers"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
}

// Credentials returns the immutable mailbox credentials for the session.
func (c *AppConfig) Credentials() InboxCredentials {
	return InboxCredentials{
		Host:               c.IMAP.Host,
		Port:               c.IMAP.Port,
		Username:           c.IMAP.Username,
		Password:           c.IMAP.Password,
		TLS:                c.IMAP.TLS,
		InsecureSkipVerify: c.IMAP.InsecureSkipVerify,
		Mailbox:            c.IMAP.Mailbox,
	}
}

// Validate reports settings without which the watcher cannot run.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.IMAP.Host == "" {
		missing = append(missing, "imap.host")
	}
	if c.IMAP.Port == "" {
		missing = append(missing, "imap.port")
	}
	if c.IMAP.Username == "" {
		missing = append(missing, "imap.username")
	}
	if !c.IMAP.Password.IsSet() {
		missing = append(missing, "imap.password")
	}
	if c.API.URL == "" {
		missing = append(missing, "api.url")
	}
	if !c.API.Token.IsSet() {
		missing = append(missing, "api.token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be at least 1")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/approval-watcher/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "approval-watcher", "config.yaml")
}

// defaults lists every key with its default value. It doubles as the list
// of keys viper binds to environment variables.
var defaults = map[string]any{
	"imap.host":                   "",
	"imap.port":                   "993",
	"imap.username":               "",
	"imap.password":               "",
	"imap.tls":                    true,
	"imap.insecure_skip_verify":   false,
	"imap.mailbox":                "INBOX",
	"imap.idle_refresh":           25 * time.Minute,
	"imap.poll_interval":          time.Minute,
	"imap.disable_idle":           false,
	"api.url":                     "",
	"api.token":                   "",
	"api.timeout":                 30 * time.Second,
	"reconnect.base_delay":        15 * time.Second,
	"reconnect.max_delay":         60 * time.Second,
	"reconnect.max_attempts":      5,
	"reconnect.cooldown":          5 * time.Minute,
	"reconnect.liveness_interval": 2 * time.Minute,
	"reconnect.probe_timeout":     5 * time.Second,
	"reconnect.unreachable_retry": 30 * time.Second,
	"workers.count":               4,
	"workers.queue":               64,
	"http.addr":                   ":3000",
	"http.rate_limit":             1.0,
	"http.rate_burst":             10,
	"log.level":                   "info",
	"log.format":                  "json",
	"log.file":                    "",
	"audit.db_path":               "",
}

// legacyEnv maps environment names used by earlier deployments of the
// service onto config keys.
var legacyEnv = map[string]string{
	"imap.username": "IMAP_USER",
	"imap.password": "IMAP_PASS",
	"imap.tls":      "IMAP_TLS",
	"api.url":       "EXTERNAL_API_URL",
	"api.token":     "EXTERNAL_API_TOKEN",
}

// newViper builds a viper instance with defaults and env bindings.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		_ = v.BindEnv(key)
	}
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	_ = v.BindEnv("http.port", "PORT")
	_ = v.BindEnv("tls_reject_unauthorized", "NODE_TLS_REJECT_UNAUTHORIZED")

	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying environment overrides. A missing file is not an error: the
// defaults plus environment are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// PORT from the environment overrides the listen port only.
	if port := v.GetString("http.port"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	if v.GetString("tls_reject_unauthorized") == "0" {
		cfg.IMAP.InsecureSkipVerify = true
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}

	return cfg, nil
}

// secretKeys are resolved from the keyring and never written to disk.
var secretKeys = map[string]bool{
	"imap.password": true,
	"api.token":     true,
}

// settings flattens every non-secret setting of cfg into config keys.
// Durations are written in their string form so the file stays readable.
func settings(cfg *AppConfig) map[string]any {
	return map[string]any{
		"imap.host":                   cfg.IMAP.Host,
		"imap.port":                   cfg.IMAP.Port,
		"imap.username":               cfg.IMAP.Username,
		"imap.tls":                    cfg.IMAP.TLS,
		"imap.insecure_skip_verify":   cfg.IMAP.InsecureSkipVerify,
		"imap.mailbox":                cfg.IMAP.Mailbox,
		"imap.idle_refresh":           cfg.IMAP.IdleRefresh.String(),
		"imap.poll_interval":          cfg.IMAP.PollInterval.String(),
		"imap.disable_idle":           cfg.IMAP.DisableIdle,
		"api.url":                     cfg.API.URL,
		"api.timeout":                 cfg.API.Timeout.String(),
		"reconnect.base_delay":        cfg.Reconnect.BaseDelay.String(),
		"reconnect.max_delay":         cfg.Reconnect.MaxDelay.String(),
		"reconnect.max_attempts":      cfg.Reconnect.MaxAttempts,
		"reconnect.cooldown":          cfg.Reconnect.Cooldown.String(),
		"reconnect.liveness_interval": cfg.Reconnect.LivenessInterval.String(),
		"reconnect.probe_timeout":     cfg.Reconnect.ProbeTimeout.String(),
		"reconnect.unreachable_retry": cfg.Reconnect.UnreachableRetry.String(),
		"workers.count":               cfg.Workers.Count,
		"workers.queue":               cfg.Workers.Queue,
		"http.addr":                   cfg.HTTP.Addr,
		"http.rate_limit":             cfg.HTTP.RateLimit,
		"http.rate_burst":             cfg.HTTP.RateBurst,
		"log.level":                   cfg.Log.Level,
		"log.format":                  cfg.Log.Format,
		"log.file":                    cfg.Log.File,
		"audit.db_path":               cfg.Audit.DBPath,
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Every setting is written so a
// load/save round trip keeps the user's tuning. Secrets are never written;
// they belong in the keyring.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, val := range settings(cfg) {
		if secretKeys[key] {
			continue
		}
		v.Set(key, val)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
