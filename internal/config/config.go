// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // websocket origin check; empty = same host
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // pending intent lifetime
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PublishableKey string `yaml:"publishable_key"`
}

type RazorpayConfig struct {
	KeyID     string `yaml:"key_id"`
	KeySecret string `yaml:"key_secret"`
	ScriptURL string `yaml:"script_url"`
}

type GatewayConfig struct {
	Stripe      StripeConfig   `yaml:"stripe"`
	Razorpay    RazorpayConfig `yaml:"razorpay"`
	LoadTimeout time.Duration  `yaml:"load_timeout"`
	// Subscription/Registration name the adapter serving each checkout kind.
	Subscription string `yaml:"subscription"`
	Registration string `yaml:"registration"`
}

type CheckoutConfig struct {
	RedirectDelay        time.Duration `yaml:"redirect_delay"`
	SubscriptionRedirect string        `yaml:"subscription_redirect"`
	RegistrationRedirect string        `yaml:"registration_redirect"`
	SessionTTL           time.Duration `yaml:"session_ttl"`
	LockTTL              time.Duration `yaml:"lock_ttl"`
	RateLimit            int           `yaml:"rate_limit"` // session creations per client key per window
	RateWindow           time.Duration `yaml:"rate_window"`
}

type WorkerConfig struct {
	Size        int           `yaml:"size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type SchedulerConfig struct {
	EscalationInterval time.Duration `yaml:"escalation_interval"`
	EscalationAge      time.Duration `yaml:"escalation_age"`
	JanitorInterval    time.Duration `yaml:"janitor_interval"`
}

type SecurityConfig struct {
	EncryptionKey string   `yaml:"encryption_key"`
	PreviousKeys  []string `yaml:"previous_encryption_keys"` // still accepted for reading during rotation
	JWTSecret     string   `yaml:"jwt_secret"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	SupportChat int64  `yaml:"support_chat_id"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Backend   BackendConfig   `yaml:"backend"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
	Telegram  TelegramConfig  `yaml:"telegram"`

	Runtime RuntimeConfig `yaml:"-"`
}

// ParseFlags reads -config and -dev from the command line.
func ParseFlags() (path string, dev bool) {
	flag.StringVar(&path, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return path, dev
}

// LoadConfig reads the YAML file, applies .env and environment overrides,
// fills defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Gateway.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	override(&cfg.Gateway.Razorpay.KeySecret, "RAZORPAY_KEY_SECRET")
	override(&cfg.Security.JWTSecret, "JWT_SECRET")
	override(&cfg.Security.EncryptionKey, "ENCRYPTION_KEY")
	override(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL, 24*time.Hour)
	cfg.Backend.Timeout = normalizeTTL(cfg.Backend.Timeout, 15*time.Second)
	cfg.Gateway.LoadTimeout = normalizeTTL(cfg.Gateway.LoadTimeout, 10*time.Second)
	if cfg.Gateway.Subscription == "" {
		cfg.Gateway.Subscription = "stripe"
	}
	if cfg.Gateway.Registration == "" {
		cfg.Gateway.Registration = "razorpay"
	}
	if cfg.Gateway.Razorpay.ScriptURL == "" {
		cfg.Gateway.Razorpay.ScriptURL = "https://checkout.razorpay.com/v1/checkout.js"
	}
	cfg.Checkout.RedirectDelay = normalizeTTL(cfg.Checkout.RedirectDelay, 2*time.Second)
	if cfg.Checkout.SubscriptionRedirect == "" {
		cfg.Checkout.SubscriptionRedirect = "/dashboard"
	}
	if cfg.Checkout.RegistrationRedirect == "" {
		cfg.Checkout.RegistrationRedirect = "/parent/dashboard"
	}
	cfg.Checkout.SessionTTL = normalizeTTL(cfg.Checkout.SessionTTL, 30*time.Minute)
	cfg.Checkout.LockTTL = normalizeTTL(cfg.Checkout.LockTTL, 15*time.Minute)
	if cfg.Checkout.RateLimit <= 0 {
		cfg.Checkout.RateLimit = 10
	}
	cfg.Checkout.RateWindow = normalizeTTL(cfg.Checkout.RateWindow, time.Minute)
	if cfg.Worker.Size <= 0 {
		cfg.Worker.Size = 4
	}
	cfg.Worker.TaskTimeout = normalizeTTL(cfg.Worker.TaskTimeout, 10*time.Second)
	cfg.Scheduler.EscalationInterval = normalizeTTL(cfg.Scheduler.EscalationInterval, 5*time.Minute)
	cfg.Scheduler.EscalationAge = normalizeTTL(cfg.Scheduler.EscalationAge, 10*time.Minute)
	cfg.Scheduler.JanitorInterval = normalizeTTL(cfg.Scheduler.JanitorInterval, time.Minute)
}

// Validate is the minimal set of checks the service cannot start without.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	if n := len(c.Security.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	for _, gw := range []string{c.Gateway.Subscription, c.Gateway.Registration} {
		switch gw {
		case "stripe":
			if c.Gateway.Stripe.SecretKey == "" {
				return errors.New("gateway.stripe.secret_key is required")
			}
		case "razorpay":
			if c.Gateway.Razorpay.KeySecret == "" {
				return errors.New("gateway.razorpay.key_secret is required")
			}
		case "noop":
		default:
			return fmt.Errorf("unknown gateway %q", gw)
		}
	}
	return nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
