package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CHECKOUT_SECURITY_JWT_SECRET": "shhh",
		"CHECKOUT_ORDERS_BASE_URL":     "https://orders.example.com",
		"CHECKOUT_ORDERS_AUTH_TOKEN":   "orders-token",
		"CHECKOUT_PSP_STRIPE_API_KEY":  "sk_test_123",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Payments.Mode != "stripe" {
		t.Fatalf("expected default payments mode stripe, got %q", cfg.Payments.Mode)
	}
	if cfg.Payments.Currency != "AED" {
		t.Fatalf("expected default currency AED, got %q", cfg.Payments.Currency)
	}
	if cfg.Checkout.SessionTTL != 45*time.Minute {
		t.Fatalf("unexpected session TTL %v", cfg.Checkout.SessionTTL)
	}
	if cfg.Events.Topic != "checkout-events" {
		t.Fatalf("unexpected events topic %q", cfg.Events.Topic)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_SERVER_PORT"] = "9090"
	env["CHECKOUT_PAYMENTS_MODE"] = "TEST"
	env["CHECKOUT_PAYMENTS_CURRENCY"] = "usd"
	env["CHECKOUT_PAYMENTS_TEST_CONFIRMATION_URL"] = "https://app.example.com/payment/confirm"
	env["CHECKOUT_ORDERS_TIMEOUT"] = "3s"
	env["CHECKOUT_FIRESTORE_PROJECT_ID"] = "proj-123"
	delete(env, "CHECKOUT_PSP_STRIPE_API_KEY")

	cfg, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected overridden port, got %q", cfg.Server.Port)
	}
	if cfg.Payments.Mode != "test" {
		t.Fatalf("expected lowered payments mode, got %q", cfg.Payments.Mode)
	}
	if cfg.Payments.Currency != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", cfg.Payments.Currency)
	}
	if cfg.Orders.Timeout != 3*time.Second {
		t.Fatalf("unexpected orders timeout %v", cfg.Orders.Timeout)
	}
	if cfg.Events.ProjectID != "proj-123" {
		t.Fatalf("expected events project to fall back to firestore project, got %q", cfg.Events.ProjectID)
	}
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	env := baseEnv()
	delete(env, "CHECKOUT_ORDERS_BASE_URL")
	delete(env, "CHECKOUT_PSP_STRIPE_API_KEY")

	_, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := validation.Fields()
	want := map[string]bool{"Orders.BaseURL": false, "PSP.StripeAPIKey": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("expected %s in validation fields %v", field, fields)
		}
	}
}

func TestLoadRejectsUnknownPaymentsMode(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_PAYMENTS_MODE"] = "cash"

	_, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
	)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_PSP_STRIPE_API_KEY"] = "sm://projects/demo/secrets/stripe-key/versions/latest"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://projects/demo/secrets/stripe-key/versions/latest" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "sk_live_resolved", nil
	})

	cfg, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_resolved" {
		t.Fatalf("expected resolved secret, got %q", cfg.PSP.StripeAPIKey)
	}
}

func TestLoadReportsSecretFailure(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_ORDERS_AUTH_TOKEN"] = "secret://projects/demo/secrets/orders/versions/1"

	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("backend down")
	})

	_, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://projects/demo/secrets/orders/versions/1" {
		t.Fatalf("unexpected ref %q", secretErr.Ref)
	}
}

func TestLoadEnforcesRequiredSecrets(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_PAYMENTS_MODE"] = "test"
	delete(env, "CHECKOUT_ORDERS_AUTH_TOKEN")

	_, err := Load(context.Background(),
		WithEnvFile(""),
		WithoutSystemEnv(),
		WithEnvMap(env),
		WithRequiredSecrets("Orders.AuthToken"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Orders.AuthToken" {
		t.Fatalf("unexpected missing secret names %v", names)
	}
}
