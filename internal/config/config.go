package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. It is loaded once at startup
// and passed to the components that need it.
type Config struct {
	// Server settings
	Port              string        `yaml:"port"`
	BasePath          string        `yaml:"base_path"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// Storage settings
	StorageDir     string `yaml:"storage_dir"`
	StorageBackend string `yaml:"storage_backend"` // file | redis
	RedisURL       string `yaml:"redis_url"`

	// Signing settings
	SignerPrivateKey     string `yaml:"signer_private_key"`
	ChainID              int64  `yaml:"chain_id"`
	SigningDomainName    string `yaml:"signing_domain_name"`
	SigningDomainVersion string `yaml:"signing_domain_version"`
	ClaimerContract      string `yaml:"claimer_contract"`
	RecaptchaSecret      string `yaml:"recaptcha_secret"`
	RecaptchaVerifyURL   string `yaml:"recaptcha_verify_url"`
	SigningRateLimit     int    `yaml:"signing_rate_limit"` // requests per minute per IP, 0 disables

	// Admin settings
	AdminSocket string `yaml:"admin_socket"`

	// Logging settings
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Shutdown settings
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:              "3001",
		BasePath:          "/xue-signer",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB

		StorageDir:     "storage",
		StorageBackend: "file",

		ChainID:              1,
		SigningDomainName:    "Xnode Unit Entitlement Claimer",
		SigningDomainVersion: "1",
		SigningRateLimit:     30,

		AdminSocket: filepath.Join("storage", "admin.sock"),

		LogLevel:  "info",
		LogFormat: "json",

		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads an optional YAML file named by CONFIG_FILE, applies environment
// variables on top and validates the result.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	// Server settings
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT must be a valid number: %w", err)
		}
		c.Port = port
	}
	if base := os.Getenv("BASE_PATH"); base != "" {
		c.BasePath = base
	}

	// Storage settings
	if dir := os.Getenv("STORAGE_DIR"); dir != "" {
		c.StorageDir = dir
		if os.Getenv("ADMIN_SOCKET") == "" {
			c.AdminSocket = filepath.Join(dir, "admin.sock")
		}
	}
	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		c.StorageBackend = strings.ToLower(backend)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.RedisURL = redisURL
	}

	// Signing settings
	if key := os.Getenv("SIGNER_PRIV_KEY"); key != "" {
		c.SignerPrivateKey = key
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		id, err := strconv.ParseInt(chainID, 10, 64)
		if err != nil || id < 1 {
			return errors.New("CHAIN_ID must be a positive integer")
		}
		c.ChainID = id
	}
	if name := os.Getenv("SIGNING_DOMAIN_NAME"); name != "" {
		c.SigningDomainName = name
	}
	if version := os.Getenv("SIGNING_DOMAIN_VERSION"); version != "" {
		c.SigningDomainVersion = version
	}
	if contract := os.Getenv("CLAIMER_CONTRACT"); contract != "" {
		c.ClaimerContract = contract
	}
	if secret := os.Getenv("RECAPTCHA_SECRET"); secret != "" {
		c.RecaptchaSecret = secret
	}
	if verifyURL := os.Getenv("RECAPTCHA_VERIFY_URL"); verifyURL != "" {
		c.RecaptchaVerifyURL = verifyURL
	}
	if limit := os.Getenv("SIGNING_RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return errors.New("SIGNING_RATE_LIMIT must be a non-negative integer")
		}
		c.SigningRateLimit = n
	}

	// Admin settings
	if sock := os.Getenv("ADMIN_SOCKET"); sock != "" {
		c.AdminSocket = sock
	}

	// Logging settings
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}

	// Shutdown settings
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		dur, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf(
				"SHUTDOWN_TIMEOUT must be a valid duration: %w", err)
		}
		c.ShutdownTimeout = dur
	}

	return nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.SignerPrivateKey == "" {
		errs = append(errs, errors.New("SIGNER_PRIV_KEY is required"))
	}
	if c.RecaptchaSecret == "" {
		errs = append(errs, errors.New("RECAPTCHA_SECRET is required"))
	}
	if c.ClaimerContract == "" {
		errs = append(errs, errors.New("CLAIMER_CONTRACT is required"))
	}
	switch c.StorageBackend {
	case "file":
		if c.StorageDir == "" {
			errs = append(errs, errors.New("STORAGE_DIR must not be empty"))
		}
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of: file, redis (got %q)", c.StorageBackend))
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		errs = append(errs, errors.New("BASE_PATH must start with /"))
	}
	if c.AdminSocket == "" {
		errs = append(errs, errors.New("ADMIN_SOCKET must not be empty"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the address string for the HTTP server.
func (c Config) ListenAddr() string {
	return ":" + c.Port
}

// SigningPath is the route of the signing endpoint.
func (c Config) SigningPath() string {
	return strings.TrimRight(c.BasePath, "/") + "/getSig"
}
