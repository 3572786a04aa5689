// Package config loads rollcall settings with viper.
//
// Settings come from, in increasing precedence: built-in defaults, a
// rollcall.yaml/.toml/.json file in the working directory or
// $HOME/.config/rollcall, ROLLCALL_* environment variables (dots become
// underscores: ROLLCALL_STORE_DSN) and command-line flags bound by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "ROLLCALL"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings is the decoded configuration.
type Settings struct {
	Store   StoreSettings   `mapstructure:"store"`
	Seed    SeedSettings    `mapstructure:"seed"`
	Server  ServerSettings  `mapstructure:"server"`
	View    ViewSettings    `mapstructure:"view"`
	Log     LogSettings     `mapstructure:"log"`
	Kafka   KafkaSettings   `mapstructure:"kafka"`
	Session SessionSettings `mapstructure:"session"`
}

type StoreSettings struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SeedSettings locate the seed CSV. An empty Source uses the embedded
// dataset; s3://bucket/key reads from S3.
type SeedSettings struct {
	Source     string `mapstructure:"source"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

type ServerSettings struct {
	Port int `mapstructure:"port"`
}

type ViewSettings struct {
	Optimistic bool `mapstructure:"optimistic"`
}

// LogSettings route logs to a rotating file when File is set.
type LogSettings struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// KafkaSettings enable change events when Brokers is non-empty.
type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SessionSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

var defaults = map[string]interface{}{
	"store.driver":        DriverSQLite,
	"store.dsn":           defaultDSN(),
	"store.poll_interval": 2 * time.Second,
	"seed.source":         "",
	"seed.s3_endpoint":    "",
	"seed.s3_region":      "",
	"server.port":         8080,
	"view.optimistic":     true,
	"log.file":            "",
	"log.max_size_mb":     50,
	"log.max_backups":     3,
	"kafka.brokers":       []string{},
	"kafka.topic":         "attendance-changes",
	"session.ttl":         12 * time.Hour,
}

func defaultDSN() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "rollcall", "rollcall.db")
	}
	return "rollcall.db"
}

// New returns a viper instance with defaults, search paths and environment
// binding set up.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigName("rollcall")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "rollcall"))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the settings. A non-empty
// file must exist; otherwise a missing file is not an error.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	s.Kafka.Brokers = splitList(s.Kafka.Brokers)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// splitList flattens comma-separated entries, as given by environment
// variables, and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings for values no component accepts.
func (s *Settings) Validate() error {
	switch s.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q (want memory, sqlite or postgres)", s.Store.Driver)
	}
	if s.Store.Driver != DriverMemory && s.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the %s driver", s.Store.Driver)
	}
	if s.Store.PollInterval < 0 {
		return fmt.Errorf("store.poll_interval must not be negative")
	}
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Server.Port)
	}
	if len(s.Kafka.Brokers) > 0 && s.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	if s.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	return nil
}
