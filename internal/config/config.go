package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "FOOTPRINT"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabaseDriver       = "sqlite"
	defaultDatabasePath         = "footprint.db"
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 60 * 24 * 30
	defaultLookupTimeoutSeconds = 10
	defaultPriceCents           = 900
	defaultCurrency             = "usd"
	defaultSerialStart          = 1
	defaultMaxTiles             = 24
	defaultMaxUploadBytes       = 25 << 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	SerialStart    int64

	SigningSecret string
	TokenTTL      time.Duration

	PaymentsAPIURL       string
	PaymentsSecretKey    string
	PaymentsWebhookKey   string
	PaymentLookupTimeout time.Duration

	CheckoutPriceCents int64
	CheckoutCurrency   string
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	MaxTiles       int
	MaxUploadBytes int64
	S3             S3Config
}

// S3Config is the object storage target for uploaded media. Uploads are disabled when
// Bucket is empty.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// PaymentsGatewayEnabled reports whether processor API calls are configured.
func (c AppConfig) PaymentsGatewayEnabled() bool {
	return c.PaymentsAPIURL != "" && c.PaymentsSecretKey != ""
}

// MediaEnabled reports whether uploaded media can be stored.
func (c AppConfig) MediaEnabled() bool {
	return c.S3.Bucket != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("serial.start", defaultSerialStart)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("payments.api_url", "")
	configViper.SetDefault("payments.secret_key", "")
	configViper.SetDefault("payments.webhook_secret", "")
	configViper.SetDefault("payments.lookup_timeout_seconds", defaultLookupTimeoutSeconds)
	configViper.SetDefault("checkout.price_cents", defaultPriceCents)
	configViper.SetDefault("checkout.currency", defaultCurrency)
	configViper.SetDefault("checkout.success_url", "")
	configViper.SetDefault("checkout.cancel_url", "")
	configViper.SetDefault("content.max_tiles", defaultMaxTiles)
	configViper.SetDefault("storage.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("storage.s3.bucket", "")
	configViper.SetDefault("storage.s3.region", "")
	configViper.SetDefault("storage.s3.endpoint", "")
	configViper.SetDefault("storage.s3.access_key_id", "")
	configViper.SetDefault("storage.s3.secret_access_key", "")
	configViper.SetDefault("storage.s3.public_base_url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		LogLevel:             configViper.GetString("log.level"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		SerialStart:          configViper.GetInt64("serial.start"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		PaymentsAPIURL:       strings.TrimSpace(configViper.GetString("payments.api_url")),
		PaymentsSecretKey:    configViper.GetString("payments.secret_key"),
		PaymentsWebhookKey:   configViper.GetString("payments.webhook_secret"),
		PaymentLookupTimeout: time.Duration(configViper.GetInt("payments.lookup_timeout_seconds")) * time.Second,
		CheckoutPriceCents:   configViper.GetInt64("checkout.price_cents"),
		CheckoutCurrency:     strings.ToLower(strings.TrimSpace(configViper.GetString("checkout.currency"))),
		CheckoutSuccessURL:   configViper.GetString("checkout.success_url"),
		CheckoutCancelURL:    configViper.GetString("checkout.cancel_url"),
		MaxTiles:             configViper.GetInt("content.max_tiles"),
		MaxUploadBytes:       configViper.GetInt64("storage.max_upload_bytes"),
		S3: S3Config{
			Bucket:          strings.TrimSpace(configViper.GetString("storage.s3.bucket")),
			Region:          configViper.GetString("storage.s3.region"),
			Endpoint:        configViper.GetString("storage.s3.endpoint"),
			AccessKeyID:     configViper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.s3.secret_access_key"),
			PublicBaseURL:   configViper.GetString("storage.s3.public_base_url"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.PaymentsWebhookKey) == "" {
		return fmt.Errorf("payments.webhook_secret is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.SerialStart < 1 {
		return fmt.Errorf("serial.start must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.PaymentLookupTimeout <= 0 {
		return fmt.Errorf("payments.lookup_timeout_seconds must be positive")
	}
	if c.CheckoutPriceCents <= 0 {
		return fmt.Errorf("checkout.price_cents must be positive")
	}
	if c.MaxTiles <= 0 {
		return fmt.Errorf("content.max_tiles must be positive")
	}
	if (c.PaymentsAPIURL == "") != (c.PaymentsSecretKey == "") {
		return fmt.Errorf("payments.api_url and payments.secret_key must be set together")
	}
	if c.MediaEnabled() && c.S3.Region == "" && c.S3.Endpoint == "" {
		return fmt.Errorf("storage.s3.region or storage.s3.endpoint is required when storage.s3.bucket is set")
	}
	return nil
}
