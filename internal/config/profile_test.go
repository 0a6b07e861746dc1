package config

import (
	"testing"
	"time"
)

func TestApplyProfilePermissive(t *testing.T) {
	cfg := Default()
	cfg.StrictMode = true
	if err := ApplyProfile(&cfg, "permissive"); err != nil {
		t.Fatal(err)
	}
	if cfg.StrictMode {
		t.Fatal("expected strict mode off")
	}
	if !cfg.AutoApprove.Enabled || !cfg.AutoApprove.LowRiskAllowed || cfg.AutoApprove.SafeOnly {
		t.Fatalf("unexpected auto approve %+v", cfg.AutoApprove)
	}
}

func TestApplyProfileStrict(t *testing.T) {
	cfg := Default()
	if err := ApplyProfile(&cfg, " STRICT "); err != nil {
		t.Fatal(err)
	}
	if !cfg.StrictMode || !cfg.AutoApprove.SafeOnly {
		t.Fatalf("expected strict safe-only, got strict=%v %+v", cfg.StrictMode, cfg.AutoApprove)
	}
	if cfg.Profile != "strict" {
		t.Fatalf("expected profile recorded, got %q", cfg.Profile)
	}
}

func TestApplyProfileLockdownClamps(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Burst = 500
	if err := ApplyProfile(&cfg, "lockdown"); err != nil {
		t.Fatal(err)
	}
	if cfg.AutoApprove.Enabled {
		t.Fatal("lockdown must disable auto approve")
	}
	if cfg.RateLimit.MaxPerMinute != 10 || cfg.RateLimit.MaxPerHour != 100 {
		t.Fatalf("unexpected rate caps %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Burst != 10 {
		t.Fatalf("burst clamps to the lockdown minute cap, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Confirmation.Timeout != 2*time.Minute || cfg.Confirmation.MaxPending != 10 {
		t.Fatalf("unexpected confirmation %+v", cfg.Confirmation)
	}
	if cfg.Override.ModifyThreshold != 25 || cfg.Override.CriticalThreshold != 60 {
		t.Fatalf("unexpected override %+v", cfg.Override)
	}
	if cfg.Risk.MaxPositionPerMarket != 100 {
		t.Fatalf("expected position cap 100, got %f", cfg.Risk.MaxPositionPerMarket)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("lockdown config must validate: %v", err)
	}
}

func TestApplyProfileLockdownKeepsTighterValues(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.MaxPerMinute = 3
	if err := ApplyProfile(&cfg, "lockdown"); err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimit.MaxPerMinute != 3 {
		t.Fatalf("expected tighter configured value kept, got %d", cfg.RateLimit.MaxPerMinute)
	}
}

func TestApplyProfileEmptyIsNoop(t *testing.T) {
	cfg := Default()
	if err := ApplyProfile(&cfg, ""); err != nil {
		t.Fatal(err)
	}
	if cfg.StrictMode {
		t.Fatal("empty profile must not change config")
	}
}

func TestApplyProfileUnknown(t *testing.T) {
	cfg := Default()
	if err := ApplyProfile(&cfg, "yolo"); err == nil {
		t.Fatal("expected unknown profile error")
	}
}
