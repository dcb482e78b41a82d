package postgres

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SGC_DATABASE_URL", "postgres://u:p@db:5432/sgc")
	t.Setenv("SGC_DATABASE_MAX_OPEN_CONNS", "4")
	t.Setenv("SGC_DATABASE_MAX_IDLE_CONNS", "2")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://u:p@db:5432/sgc" || cfg.MaxOpenConns != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("SGC_DATABASE_MAX_IDLE_CONNS", "8")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected idle > open to be rejected")
	}
}

func TestConfigValidateRejectsEmptyURL(t *testing.T) {
	cfg := Config{PingTimeout: 1, MaxOpenConns: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing url to be rejected")
	}
}
