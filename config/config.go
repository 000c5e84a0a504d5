package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "tablerest.yaml"
	DefaultSQLiteFile  = "database.db"
	DefaultOwnerColumn = "owner"
	EnvPrefix          = "TABLEREST_"
)

type Config struct {
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Tenant   TenantConfig   `koanf:"tenant" yaml:"tenant"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
	Caller   CallerConfig   `koanf:"caller" yaml:"caller"`
	Schema   SchemaConfig   `koanf:"schema" yaml:"schema"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
}

type DatabaseConfig struct {
	DBType           string `koanf:"type" yaml:"type"`
	ConnectionString string `koanf:"connection_string" yaml:"connection_string,omitempty"`
	File             string `koanf:"file" yaml:"file,omitempty"`
}

type TenantConfig struct {
	// OwnerColumn marks owner scoped tables. Empty disables tenancy.
	OwnerColumn string `koanf:"owner_column" yaml:"owner_column"`
	NullOpen    bool   `koanf:"null_open" yaml:"null_open"`
}

type AuthConfig struct {
	Table string `koanf:"table" yaml:"table,omitempty"`
}

// CallerConfig is the already authenticated identity of the session.
type CallerConfig struct {
	ID       int64  `koanf:"id" yaml:"id,omitempty"`
	Username string `koanf:"username" yaml:"username,omitempty"`
}

type SchemaConfig struct {
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"db-type":     "database.type",
	"dsn":         "database.connection_string",
	"db-file":     "database.file",
	"owner":       "tenant.owner_column",
	"null-open":   "tenant.null_open",
	"auth-table":  "auth.table",
	"caller-id":   "caller.id",
	"caller":      "caller.username",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"concurrency": "schema.concurrency",
}

func defaults() map[string]any {
	return map[string]any{
		"database.type":       "sqlite",
		"database.file":       DefaultSQLiteFile,
		"tenant.owner_column": DefaultOwnerColumn,
		"tenant.null_open":    false,
		"schema.concurrency":  4,
		"log.level":           "info",
		"log.format":          "text",
	}
}

// LoadConfig layers defaults, the YAML file, TABLEREST_ environment
// variables and explicitly set flags, in increasing precedence. A missing
// default config file is not an error; a missing explicit one is.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigFile
	}
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("failed to read config file %w", err)
	}

	// TABLEREST_DATABASE__CONNECTION_STRING -> database.connection_string
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if _, err := c.Database.GetConnectionString(); err != nil {
		return err
	}
	if c.Schema.Concurrency < 1 {
		return fmt.Errorf("schema.concurrency must be at least 1")
	}
	if c.Caller.Username != "" && c.Auth.Table == "" {
		return fmt.Errorf("caller.username requires auth.table")
	}
	if c.Tenant.NullOpen && c.Tenant.OwnerColumn == "" {
		return fmt.Errorf("tenant.null_open requires tenant.owner_column")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}

func (d *DatabaseConfig) GetConnectionString() (string, error) {
	switch d.DBType {
	case "postgres", "mysql":
		if d.ConnectionString == "" {
			return "", fmt.Errorf("connection string is required for %s connection", d.DBType)
		}

		return d.ConnectionString, nil

	case "sqlite":
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		if d.File == "" {
			d.File = DefaultSQLiteFile
		}
		return d.File, nil

	default:
		return "", fmt.Errorf("unsupported Database type: %s", d.DBType)
	}
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds the process logger. It writes to stderr because stdout
// carries the MCP stdio transport.
func (l LogConfig) NewLogger() *slog.Logger {
	level, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
