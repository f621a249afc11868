package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 || cfg.LedgerBackend != BackendRedis || cfg.DailyNudgeCap != 2 || cfg.NudgeSpacingHours != 6 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.ReconcileInterval != 15*time.Minute || cfg.WebhookTimeout != 10 {
		t.Errorf("unexpected loop defaults %+v", cfg)
	}
	if cfg.SNSRegion != cfg.AWSRegion || cfg.SQSRegion != cfg.AWSRegion {
		t.Error("expected service regions to default to AWS_REGION")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TZ_NAME", "Europe/Berlin")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("PUSH_ENDPOINT_ARN", "arn:aws:sns:eu-central-1:123:endpoint/APNS/app/device")
	t.Setenv("RECONCILE_INTERVAL", "5m")
	t.Setenv("DAILY_NUDGE_CAP", "3")
	t.Setenv("GRANT_PERMISSIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 || cfg.LedgerBackend != BackendPostgres || cfg.DailyNudgeCap != 3 || cfg.GrantPermissions {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.SNSRegion != "eu-central-1" || cfg.ReconcileInterval != 5*time.Minute {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %s", cfg.Location())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"TZ_NAME", "Mars/Olympus"},
		{"LEDGER_BACKEND", "sqlite"},
		{"RECONCILE_INTERVAL", "often"},
		{"DISPATCH_INTERVAL", "-1s"},
		{"GRANT_PERMISSIONS", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected %s=%q to be rejected", tt.key, tt.value)
			}
		})
	}
}
