package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"custodychain/internal/log"

	"github.com/spf13/viper"
)

const envPrefix = "CUSTODY"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     log.Config    `mapstructure:"log"`
	CORS    CORSConfig    `mapstructure:"cors"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LedgerConfig struct {
	Difficulty  int           `mapstructure:"difficulty"`
	MaxNonce    uint64        `mapstructure:"max_nonce"`    // 0 = unbounded
	SealTimeout time.Duration `mapstructure:"seal_timeout"` // 0 = no deadline
}

type StorageConfig struct {
	Type          string        `mapstructure:"type"` // memory | duckdb | remote
	Path          string        `mapstructure:"path"`
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("ledger.difficulty", 2)
	v.SetDefault("ledger.max_nonce", 0)
	v.SetDefault("ledger.seal_timeout", "2m")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.path", "custody.duckdb")
	v.SetDefault("storage.remote_url", "http://localhost:3001")
	v.SetDefault("storage.remote_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// LoadConfig reads configPath when given, then applies CUSTODY_* environment
// overrides (e.g. CUSTODY_LEDGER_DIFFICULTY).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.Difficulty < 0 || c.Ledger.Difficulty > 64 {
		errs = append(errs, fmt.Errorf("ledger.difficulty must be between 0 and 64, got %d", c.Ledger.Difficulty))
	}
	switch c.Storage.Type {
	case "memory":
	case "duckdb":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for duckdb storage"))
		}
	case "remote":
		if c.Storage.RemoteURL == "" {
			errs = append(errs, errors.New("storage.remote_url is required for remote storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
