// Package config loads the YAML configuration shared by the client agent and the API.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultClientAddr      = "127.0.0.1:7420"
	DefaultAPIAddr         = ":8080"
	DefaultDataDir         = "./data"
	DefaultLogLevel        = "INFO"
	DefaultProbeInterval   = 30 * time.Second
	DefaultSweepInterval   = time.Hour
	DefaultRetentionMaxAge = 30 * 24 * time.Hour
	DefaultSyncTimeout     = 5 * time.Minute
	DefaultNetworkTimeout  = 3 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRateLimit       = 10
	DefaultRateBurst       = 20
	DefaultPushTopic       = "ridelink.push"
	DefaultPushChannel     = "client"
	DefaultCachePrefix     = "ridelink"
	DefaultCacheVersion    = "v1"
	DefaultAdminLimit      = 50
)

// Environment variables that override secrets from the file.
const (
	EnvJWTSecret     = "RIDELINK_JWT_SECRET"
	EnvPaymentSecret = "RIDELINK_PAYMENT_SECRET"
	EnvSMSToken      = "RIDELINK_SMS_TOKEN"
	EnvDBAPIKey      = "RIDELINK_DB_API_KEY"
	EnvAdminDSN      = "RIDELINK_ADMIN_DSN"
	EnvClientToken   = "RIDELINK_CLIENT_TOKEN"
)

// Client configures the client session agent.
type Client struct {
	Addr            string        `yaml:"Addr"`
	DataDir         string        `yaml:"DataDir"`
	UserID          string        `yaml:"UserID"`
	APIBaseURL      string        `yaml:"APIBaseURL"`
	Token           string        `yaml:"Token"`
	ProbeInterval   time.Duration `yaml:"ProbeInterval"`
	SweepInterval   time.Duration `yaml:"SweepInterval"`
	RetentionMaxAge time.Duration `yaml:"RetentionMaxAge"`
	SyncTimeout     time.Duration `yaml:"SyncTimeout"`
	AllowedOrigins  []string      `yaml:"AllowedOrigins"`
}

// CacheGroup bounds one cache group.
type CacheGroup struct {
	MaxEntries int           `yaml:"MaxEntries"`
	MaxAge     time.Duration `yaml:"MaxAge"`
}

// Cache configures the runtime cache manager.
type Cache struct {
	Origin         string                `yaml:"Origin"`
	AllowedHosts   []string              `yaml:"AllowedHosts"`
	Prefix         string                `yaml:"Prefix"`
	Version        string                `yaml:"Version"`
	NetworkTimeout time.Duration         `yaml:"NetworkTimeout"`
	Manifest       []string              `yaml:"Manifest"`
	Groups         map[string]CacheGroup `yaml:"Groups,omitempty"`
	RedisAddr      string                `yaml:"RedisAddr"` // empty keeps entries in memory
	RedisNamespace string                `yaml:"RedisNamespace"`
}

// Push configures the NSQ push transport.
type Push struct {
	Topic            string   `yaml:"Topic"`
	Channel          string   `yaml:"Channel"`
	NsqdTCPAddrs     []string `yaml:"NsqdTCPAddrs"`
	LookupdHTTPAddrs []string `yaml:"LookupdHTTPAddrs"`
	ProducerAddr     string   `yaml:"ProducerAddr"`
	MaxInFlight      int      `yaml:"MaxInFlight"`
	ConsumerEnabled  bool     `yaml:"ConsumerEnabled"`
}

// Payment configures the payment processor.
type Payment struct {
	BaseURL string `yaml:"BaseURL"`
	Secret  string `yaml:"Secret"`
}

// SMS configures the SMS gateway.
type SMS struct {
	BaseURL    string `yaml:"BaseURL"`
	AccountSID string `yaml:"AccountSID"`
	Token      string `yaml:"Token"`
	From       string `yaml:"From"`
}

// Database configures the managed database REST layer.
type Database struct {
	BaseURL string `yaml:"BaseURL"`
	APIKey  string `yaml:"APIKey"`
}

// Admin configures the admin MySQL store.
type Admin struct {
	DSN          string `yaml:"DSN"`
	MaxOpenConns int    `yaml:"MaxOpenConns"`
	DefaultLimit int    `yaml:"DefaultLimit"`
}

// API configures the thin API process.
type API struct {
	Addr           string        `yaml:"Addr"`
	JWTSecret      string        `yaml:"JWTSecret"`
	RateLimit      float64       `yaml:"RateLimit"`
	RateBurst      int           `yaml:"RateBurst"`
	CORSOrigins    []string      `yaml:"CORSOrigins"`
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
	Payment        Payment       `yaml:"Payment"`
	SMS            SMS           `yaml:"SMS"`
	Database       Database      `yaml:"Database"`
	Admin          Admin         `yaml:"Admin"`
}

// Config is the complete configuration.
type Config struct {
	LogLevel string `yaml:"LogLevel"`
	Client   Client `yaml:"Client"`
	Cache    Cache  `yaml:"Cache"`
	Push     Push   `yaml:"Push"`
	API      API    `yaml:"API"`
}

// Load reads the .env files (missing ones are skipped), the YAML file at path
// (empty path means defaults only), then applies environment overrides and defaults.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnv(envFiles...); err != nil {
		return Config{}, err
	}

	var config Config
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &config); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// MustLoad is Load for process startup; it panics on error.
func MustLoad(path string, envFiles ...string) Config {
	config, err := Load(path, envFiles...)
	if err != nil {
		panic(err.Error())
	}
	return config
}

func loadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.API.JWTSecret, EnvJWTSecret)
	override(&c.API.Payment.Secret, EnvPaymentSecret)
	override(&c.API.SMS.Token, EnvSMSToken)
	override(&c.API.Database.APIKey, EnvDBAPIKey)
	override(&c.API.Admin.DSN, EnvAdminDSN)
	override(&c.Client.Token, EnvClientToken)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	cl := &c.Client
	if cl.Addr == "" {
		cl.Addr = DefaultClientAddr
	}
	if cl.DataDir == "" {
		cl.DataDir = DefaultDataDir
	}
	if cl.ProbeInterval == 0 {
		cl.ProbeInterval = DefaultProbeInterval
	}
	if cl.SweepInterval == 0 {
		cl.SweepInterval = DefaultSweepInterval
	}
	if cl.RetentionMaxAge == 0 {
		cl.RetentionMaxAge = DefaultRetentionMaxAge
	}
	if cl.SyncTimeout == 0 {
		cl.SyncTimeout = DefaultSyncTimeout
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = DefaultCachePrefix
	}
	if c.Cache.Version == "" {
		c.Cache.Version = DefaultCacheVersion
	}
	if c.Cache.NetworkTimeout == 0 {
		c.Cache.NetworkTimeout = DefaultNetworkTimeout
	}

	if c.Push.Topic == "" {
		c.Push.Topic = DefaultPushTopic
	}
	if c.Push.Channel == "" {
		c.Push.Channel = DefaultPushChannel
	}

	api := &c.API
	if api.Addr == "" {
		api.Addr = DefaultAPIAddr
	}
	if api.RateLimit == 0 {
		api.RateLimit = DefaultRateLimit
	}
	if api.RateBurst == 0 {
		api.RateBurst = DefaultRateBurst
	}
	if api.RequestTimeout == 0 {
		api.RequestTimeout = DefaultRequestTimeout
	}
	if api.Admin.DefaultLimit == 0 {
		api.Admin.DefaultLimit = DefaultAdminLimit
	}
}

// Validate checks settings shared by both processes.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"Client.ProbeInterval":   c.Client.ProbeInterval,
		"Client.SweepInterval":   c.Client.SweepInterval,
		"Client.RetentionMaxAge": c.Client.RetentionMaxAge,
		"Client.SyncTimeout":     c.Client.SyncTimeout,
		"Cache.NetworkTimeout":   c.Cache.NetworkTimeout,
		"API.RequestTimeout":     c.API.RequestTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.API.RateLimit < 0 || c.API.RateBurst < 0 {
		return errors.New("API rate limit must not be negative")
	}
	for name, raw := range map[string]string{
		"Client.APIBaseURL":    c.Client.APIBaseURL,
		"Cache.Origin":         c.Cache.Origin,
		"API.Payment.BaseURL":  c.API.Payment.BaseURL,
		"API.SMS.BaseURL":      c.API.SMS.BaseURL,
		"API.Database.BaseURL": c.API.Database.BaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not an absolute URL: %q", name, raw)
		}
	}
	return nil
}

// ValidateClient checks the settings the client agent cannot run without.
func (c *Config) ValidateClient() error {
	if c.Client.UserID == "" {
		return errors.New("Client.UserID is required")
	}
	if c.Client.APIBaseURL == "" {
		return errors.New("Client.APIBaseURL is required")
	}
	if c.Push.ConsumerEnabled && len(c.Push.NsqdTCPAddrs) == 0 && len(c.Push.LookupdHTTPAddrs) == 0 {
		return errors.New("Push consumer needs NsqdTCPAddrs or LookupdHTTPAddrs")
	}
	return nil
}

// ValidateAPI checks the settings the API cannot run without.
func (c *Config) ValidateAPI() error {
	if c.API.JWTSecret == "" {
		return fmt.Errorf("API.JWTSecret is required (or set %s)", EnvJWTSecret)
	}
	return nil
}
