package config

import "testing"

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Config{
		DatabaseURL: "postgres://localhost/notify",
		RedisAddr:   "localhost:6379",
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := Config{
		RedisAddr: "localhost:6379",
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !containsString(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %v", err)
	}
}

func TestValidate_InvalidDurations(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "abc"},
		{"negative", "-5s"},
		{"zero", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				DatabaseURL:       "postgres://localhost/notify",
				RedisAddr:         "localhost:6379",
				IdempotencyTTLStr: tt.value,
			}

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for IDEMPOTENCY_TTL=%q", tt.value)
			}
			if !containsString(err.Error(), "IDEMPOTENCY_TTL") {
				t.Errorf("error should mention IDEMPOTENCY_TTL: %v", err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Config{
		IdempotencyTTLStr:             "bogus",
		CircuitBreakerResetTimeoutStr: "-1s",
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 3 {
		t.Errorf("expected at least 3 errors, got %d: %v", len(verrs), verrs)
	}
}
