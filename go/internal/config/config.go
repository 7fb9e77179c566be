// Package config loads devmate settings from a .env file, the user's config
// file and DEVMATE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const fileName = "config.yaml"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sync     SyncConfig     `yaml:"sync"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	NATS     NATSConfig     `yaml:"nats"`
	Policy   PolicyConfig   `yaml:"policy"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig locates the device authority.
type ServerConfig struct {
	Protocol string `yaml:"protocol"`
	Address  string `yaml:"address"`
	Port     string `yaml:"port"`
}

type SyncConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type PolicyConfig struct {
	AllowOfflineWhileReserved bool `yaml:"allow_offline_while_reserved"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Protocol: "http",
			Address:  "localhost",
			Port:     "8080",
		},
		Sync: SyncConfig{
			PollInterval:   10 * time.Second,
			TickInterval:   time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr: ":8090",
		},
		NATS: NATSConfig{
			SubjectPrefix: "devmate.events",
		},
		Policy: PolicyConfig{
			AllowOfflineWhileReserved: true,
		},
		LogLevel: "info",
	}
}

// BaseURL is the authority root, e.g. http://localhost:8080.
func (c Config) BaseURL() string {
	return fmt.Sprintf("%s://%s:%s", c.Server.Protocol, c.Server.Address, c.Server.Port)
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	folder := ".devmateconfg"
	if runtime.GOOS == "windows" {
		folder = "devmateconfg"
	}
	return filepath.Join(home, folder, fileName), nil
}

// Load builds the effective configuration. A missing .env or config file is
// not an error; an unreadable or invalid one is.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Protocol = getEnv("DEVMATE_PROTOCOL", cfg.Server.Protocol)
	cfg.Server.Address = getEnv("DEVMATE_ADDRESS", cfg.Server.Address)
	cfg.Server.Port = getEnv("DEVMATE_PORT", cfg.Server.Port)
	cfg.Gateway.Addr = getEnv("DEVMATE_GATEWAY_ADDR", cfg.Gateway.Addr)
	cfg.NATS.URL = getEnv("DEVMATE_NATS_URL", cfg.NATS.URL)
	cfg.LogLevel = getEnv("DEVMATE_LOG_LEVEL", cfg.LogLevel)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DEVMATE_POLL_INTERVAL", &cfg.Sync.PollInterval},
		{"DEVMATE_TICK_INTERVAL", &cfg.Sync.TickInterval},
		{"DEVMATE_REQUEST_TIMEOUT", &cfg.Sync.RequestTimeout},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	allow, err := getEnvAsBool("DEVMATE_ALLOW_OFFLINE_WHILE_RESERVED", cfg.Policy.AllowOfflineWhileReserved)
	if err != nil {
		return err
	}
	cfg.Policy.AllowOfflineWhileReserved = allow
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Server.Protocol {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("unsupported protocol %q", c.Server.Protocol))
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server address is empty"))
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Server.Port))
	}
	if c.Sync.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Sync.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.Sync.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes c to path, creating the directory if needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
