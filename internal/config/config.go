package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		BodyLimit       string        `mapstructure:"body_limit"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Storage struct {
		Driver     string        `mapstructure:"driver"`
		Timeout    time.Duration `mapstructure:"timeout"`
		SQLitePath string        `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`
	DB struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
		MinConns int32  `mapstructure:"min_conns"`
	} `mapstructure:"db"`
	Cache struct {
		RedisURL string        `mapstructure:"redis_url"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	CORS struct {
		Origin string `mapstructure:"origin"`
	} `mapstructure:"cors"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Telemetry struct {
		Enabled     bool   `mapstructure:"enabled"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.body_limit", "1M")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.timeout", 5*time.Second)
	v.SetDefault("storage.sqlite_path", "ingest.db")
	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cors.origin", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "workflow-ingest")
	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.hostnames", []string{"localhost", "127.0.0.1"})
}

// LoadConfig loads the configuration from an optional file and the
// environment. With an empty configFile, config.yaml is searched in the
// working directory and ./config; a missing file is not an error.
// Environment variables override file values (db.url <- DB_URL); the
// DATABASE_URL and CORS_ORIGIN names are accepted as well.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("db.url", "DB_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("cors.origin", "CORS_ORIGIN"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))
	return &config, nil
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DB.URL == "" {
			return errors.New("db.url (DATABASE_URL) is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Timeout <= 0 {
		return errors.New("storage.timeout must be positive")
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file are required when tls.enable is set")
	}
	return nil
}

// AllowedOrigins splits the CORS origin setting. "*" (or an empty value)
// allows every origin; otherwise it is a comma separated list.
func (c *Config) AllowedOrigins() []string {
	raw := strings.TrimSpace(c.CORS.Origin)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
