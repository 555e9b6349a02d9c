package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INDEXING_CREDIT_COST")
	unsetEnvWithCleanup(t, "REPLICATION_MAX_ATTEMPTS")
	unsetEnvWithCleanup(t, "EVENTS_EXCHANGE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.IndexingCreditCost != 100 {
		t.Fatalf("expected default credit cost 100, got %d", cfg.IndexingCreditCost)
	}
	if cfg.ReplicationMaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.ReplicationMaxAttempts)
	}
	if cfg.EventsExchange != "solixdb.events" {
		t.Fatalf("expected default events exchange, got %q", cfg.EventsExchange)
	}
}

func TestLoadConfig_UsesHeliusAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PROVIDER_MAINNET_API_KEY")
	setEnvWithCleanup(t, "HELIUS_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ProviderMainnetAPIKey != "alias-key" {
		t.Fatalf("expected provider key from alias env var, got %q", cfg.ProviderMainnetAPIKey)
	}
}

func TestLoadConfig_NegativeCreditCostCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INDEXING_CREDIT_COST", "-50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.IndexingCreditCost != 0 {
		t.Fatalf("expected coerced credit cost 0, got %d", cfg.IndexingCreditCost)
	}
}

func TestLoadConfig_ClerkClaimEnforcement(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CLERK_AUDIENCE", "solixdb-dashboard")
	setEnvWithCleanup(t, "CLERK_ISSUER", "https://clerk.solixdb.example.com")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ClerkAudience != "solixdb-dashboard" {
		t.Fatalf("expected audience from env, got %q", cfg.ClerkAudience)
	}
	if cfg.ClerkIssuer != "https://clerk.solixdb.example.com" {
		t.Fatalf("expected issuer from env, got %q", cfg.ClerkIssuer)
	}
}

func TestLoadConfig_TrimsWebhookSecrets(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "WEBHOOK_MAINNET_SECRET", "  mainnet-secret  ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookMainnetSecret != "mainnet-secret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.WebhookMainnetSecret)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
