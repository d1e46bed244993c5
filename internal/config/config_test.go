package config

import (
	"strings"
	"testing"
	"time"
)

func requiredViper() map[string]any {
	return map[string]any{
		"auth.signing_secret":     "owner-secret",
		"payments.webhook_secret": "webhook-secret",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	for key, value := range requiredViper() {
		configViper.Set(key, value)
	}

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database defaults %q %q", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.TokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.PaymentLookupTimeout != 10*time.Second {
		t.Fatalf("unexpected lookup timeout %s", cfg.PaymentLookupTimeout)
	}
	if cfg.SerialStart != 1 || cfg.MaxTiles != defaultMaxTiles {
		t.Fatalf("unexpected serial start %d or max tiles %d", cfg.SerialStart, cfg.MaxTiles)
	}
	if cfg.PaymentsGatewayEnabled() || cfg.MediaEnabled() {
		t.Fatalf("expected optional integrations disabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FOOTPRINT_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("FOOTPRINT_PAYMENTS_WEBHOOK_SECRET", "hook-from-env")
	t.Setenv("FOOTPRINT_DATABASE_DRIVER", "Postgres")
	t.Setenv("FOOTPRINT_DATABASE_DSN", "postgres://footprint@localhost/footprint")
	t.Setenv("FOOTPRINT_STORAGE_S3_BUCKET", "tiles")
	t.Setenv("FOOTPRINT_STORAGE_S3_REGION", "us-east-1")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.PaymentsWebhookKey != "hook-from-env" {
		t.Fatalf("expected secrets from environment")
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected normalized driver, got %q", cfg.DatabaseDriver)
	}
	if !cfg.MediaEnabled() || cfg.S3.Region != "us-east-1" {
		t.Fatalf("expected s3 configuration from environment, got %+v", cfg.S3)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]any
		missing   string
		wantError string
	}{
		{name: "signing secret", missing: "auth.signing_secret", wantError: "auth.signing_secret"},
		{name: "webhook secret", missing: "payments.webhook_secret", wantError: "payments.webhook_secret"},
		{name: "postgres without dsn", overrides: map[string]any{"database.driver": "postgres"}, wantError: "database.dsn"},
		{name: "unknown driver", overrides: map[string]any{"database.driver": "mysql"}, wantError: "not supported"},
		{name: "serial start", overrides: map[string]any{"serial.start": 0}, wantError: "serial.start"},
		{name: "half gateway", overrides: map[string]any{"payments.api_url": "https://pay.example.com"}, wantError: "set together"},
		{name: "bucket without region", overrides: map[string]any{"storage.s3.bucket": "tiles"}, wantError: "storage.s3.region"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range requiredViper() {
				if key != testCase.missing {
					configViper.Set(key, value)
				}
			}
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.wantError) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.wantError, err)
			}
		})
	}
}
