// Package config loads the application configuration from defaults, an
// optional YAML file, KNOLDECK_ environment variables and command-line flags,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix selects the environment variables that override the file. A
// double underscore separates sections: KNOLDECK_DB__PATH sets db.path.
const EnvPrefix = "KNOLDECK_"

// DefaultFile is read when --config is not given. It may be absent.
const DefaultFile = "knoldeck.yaml"

// Config is the application configuration.
type Config struct {
	DB        DBConfig        `koanf:"db" validate:"required"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Server    ServerConfig    `koanf:"server"`
	Sources   SourcesConfig   `koanf:"sources"`
	Log       LogConfig       `koanf:"log"`
}

// DBConfig holds the sqlite settings.
type DBConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"min=0"`
	JournalMode string        `koanf:"journal_mode" validate:"oneof=WAL DELETE TRUNCATE PERSIST MEMORY OFF"`
}

// SchedulerConfig tunes the study session.
type SchedulerConfig struct {
	QueuePageSize int `koanf:"queue_page_size" validate:"min=1,max=10000"`
	ReportLimit   int `koanf:"report_limit" validate:"min=1"`
	// ConfigCacheSize is the number of resolved options groups kept in memory.
	ConfigCacheSize int `koanf:"config_cache_size" validate:"min=1"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr         string        `koanf:"addr" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"min=0"`
}

// SourcesConfig controls note ingestion.
type SourcesConfig struct {
	ReposDir     string        `koanf:"repos_dir" validate:"required"`
	Watch        bool          `koanf:"watch"`
	Debounce     time.Duration `koanf:"debounce" validate:"min=0"`
	ParseWorkers int           `koanf:"parse_workers" validate:"min=1,max=64"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Path:        "knoldeck.db",
			BusyTimeout: 5 * time.Second,
			JournalMode: "WAL",
		},
		Scheduler: SchedulerConfig{
			QueuePageSize:   50,
			ReportLimit:     99999,
			ConfigCacheSize: 64,
		},
		Server: ServerConfig{
			Addr:         "localhost:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Sources: SourcesConfig{
			ReposDir:     "repos",
			Debounce:     500 * time.Millisecond,
			ParseWorkers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db":        "db.path",
	"addr":      "server.addr",
	"repos-dir": "sources.repos_dir",
	"watch":     "sources.watch",
	"log-level": "log.level",
	"log-json":  "log.format",
}

// RegisterFlags adds the configuration flags. Flags the user does not
// set leave the file and environment values alone.
func RegisterFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("config", "", "Path to a YAML configuration file (default "+DefaultFile+" if present)")
	flags.String("db", def.DB.Path, "Path to the SQLite database file")
	flags.String("addr", def.Server.Addr, "Address the HTTP API listens on")
	flags.String("repos-dir", def.Sources.ReposDir, "Directory git sources are cloned into")
	flags.Bool("watch", def.Sources.Watch, "Re-sync local sources when their files change")
	flags.String("log-level", def.Log.Level, "Log level: debug, info, warn or error")
	flags.Bool("log-json", false, "Log as JSON instead of text")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration. flags may be nil, in which case only the
// defaults, the file and the environment are used.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, explicit := DefaultFile, false
	if flags != nil {
		if p, err := flags.GetString("config"); err == nil && p != "" {
			path, explicit = p, true
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey turns KNOLDECK_SOURCES__REPOS_DIR into sources.repos_dir.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagValue(flags *pflag.FlagSet) func(f *pflag.Flag) (string, interface{}) {
	return func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		if f.Name == "log-json" {
			if json, _ := flags.GetBool(f.Name); json {
				return key, "json"
			}
			return key, "text"
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the slog logger the configuration asks for.
func (c LogConfig) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
