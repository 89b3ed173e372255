// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Provider names accepted by the storage, ledger and notify sections.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"

	LedgerFile     = "file"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"

	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Poll    PollConfig    `mapstructure:"poll"`
	Storage StorageConfig `mapstructure:"storage"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// PollConfig controls the polling loop.
type PollConfig struct {
	Period time.Duration `mapstructure:"period"`
	Limit  int           `mapstructure:"limit"`
}

// StorageConfig selects where downloads are written.
type StorageConfig struct {
	Provider string    `mapstructure:"provider"`
	Path     string    `mapstructure:"path"`
	GCS      GCSConfig `mapstructure:"gcs"`
}

// GCSConfig locates the bucket used by the gcs provider.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LedgerConfig selects where archived story ids are remembered.
type LedgerConfig struct {
	Provider string         `mapstructure:"provider"`
	File     string         `mapstructure:"file"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig locates the sqlite ledger database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the postgres ledger.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	ConnectionsLimit int           `mapstructure:"connections_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	PerHostRPS       float64       `mapstructure:"per_host_rps"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
}

// APIConfig holds the remote endpoint templates.
type APIConfig struct {
	ItemURL       string `mapstructure:"item_url"`
	TopStoriesURL string `mapstructure:"top_stories_url"`
	DiscussionURL string `mapstructure:"discussion_url"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// ServerConfig controls the status server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig selects where per-story reports are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"limit":             "poll.limit",
	"verbose":           "logging.verbose",
	"path":              "storage.path",
	"connections_limit": "http.connections_limit",
	"metrics-addr":      "server.addr",
}

// Load builds a Config from defaults, an optional file, the environment and
// flags, in increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HNARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := bindFlags(v, flags); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	// --period takes whole seconds while poll.period is a duration.
	if f := flags.Lookup("period"); f != nil && f.Changed {
		seconds, err := flags.GetInt("period")
		if err != nil {
			return fmt.Errorf("read flag period: %w", err)
		}
		v.Set("poll.period", time.Duration(seconds)*time.Second)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll.period", 30*time.Second)
	v.SetDefault("poll.limit", 30)
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.path", "./stories")
	v.SetDefault("storage.gcs.prefix", "stories")
	v.SetDefault("ledger.provider", LedgerFile)
	v.SetDefault("ledger.file", "list.txt")
	v.SetDefault("ledger.sqlite.path", "ledger.db")
	v.SetDefault("ledger.postgres.table", "stories")
	v.SetDefault("http.connections_limit", 3)
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.user_agent", "hnarchiver/0.1")
	v.SetDefault("http.per_host_rps", 0)
	v.SetDefault("http.max_body_bytes", 32<<20)
	v.SetDefault("api.item_url", "https://hacker-news.firebaseio.com/v0/item/%d.json")
	v.SetDefault("api.top_stories_url", "https://hacker-news.firebaseio.com/v0/topstories.json")
	v.SetDefault("api.discussion_url", "https://news.ycombinator.com/item?id=%d")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("server.addr", "")
	v.SetDefault("notify.provider", NotifyNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Poll.Period <= 0 {
		return fmt.Errorf("poll.period must be > 0")
	}
	if c.Poll.Limit <= 0 {
		return fmt.Errorf("poll.limit must be > 0")
	}
	if c.HTTP.ConnectionsLimit <= 0 {
		return fmt.Errorf("http.connections_limit must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.PerHostRPS < 0 {
		return fmt.Errorf("http.per_host_rps must be >= 0")
	}
	if !strings.Contains(c.API.ItemURL, "%d") || !strings.Contains(c.API.DiscussionURL, "%d") {
		return fmt.Errorf("api.item_url and api.discussion_url must contain %%d")
	}
	if c.API.TopStoriesURL == "" {
		return fmt.Errorf("api.top_stories_url is required")
	}

	switch c.Storage.Provider {
	case StorageLocal, StorageMemory:
		if c.Storage.Provider == StorageLocal && strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the local provider")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}

	switch c.Ledger.Provider {
	case LedgerFile:
		if c.Ledger.File == "" {
			return fmt.Errorf("ledger.file is required for the file provider")
		}
	case LedgerSQLite:
		if c.Ledger.SQLite.Path == "" {
			return fmt.Errorf("ledger.sqlite.path is required for the sqlite provider")
		}
	case LedgerPostgres:
		if c.Ledger.Postgres.DSN == "" {
			return fmt.Errorf("ledger.postgres.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown ledger.provider %q", c.Ledger.Provider)
	}

	switch c.Notify.Provider {
	case NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}

// LedgerFilePath resolves ledger.file against storage.path unless absolute.
func (c Config) LedgerFilePath() string {
	return c.underStorage(c.Ledger.File)
}

// LedgerSQLitePath resolves ledger.sqlite.path against storage.path unless absolute.
func (c Config) LedgerSQLitePath() string {
	return c.underStorage(c.Ledger.SQLite.Path)
}

func (c Config) underStorage(p string) string {
	if filepath.IsAbs(p) || c.Storage.Path == "" {
		return p
	}
	return filepath.Join(c.Storage.Path, p)
}
