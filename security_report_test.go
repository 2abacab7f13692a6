package goGuard

import (
	"context"
	"testing"
	"time"
)

func TestSecurityReport(t *testing.T) {
	h := newTestGuard(t, func(cfg *Config) {
		cfg.Security.SuspiciousThreshold = 1
		cfg.Security.BlockDuration = time.Hour
		cfg.Security.AlertEmails = []string{"ops@example.com"}
		cfg.Security.AlertPhones = []string{"+15550100"}
		cfg.Security.ExtraSQLPatterns = []string{`(?i)\bwaitfor\s+delay\b`}
	})

	r := h.guard.SecurityReport()
	if r.DefaultRateLimit.Requests != 100 || r.StrictRateLimit.Requests != 10 {
		t.Fatalf("unexpected rate limits: %+v %+v", r.DefaultRateLimit, r.StrictRateLimit)
	}
	if r.LoginLockout != 15*time.Minute || r.LoginAttemptsLimit != 5 {
		t.Fatalf("unexpected login policy: %+v", r)
	}
	if r.PermanentBlocks || r.BlockDuration != time.Hour {
		t.Fatal("expected timed blocks")
	}
	if !r.AlertingEnabled || r.AlertContacts != 2 || r.ExtraPatterns != 1 {
		t.Fatalf("unexpected alerting fields: %+v", r)
	}
	if r.BlockedIPs != 0 {
		t.Fatalf("expected empty blocklist, got %d", r.BlockedIPs)
	}

	ctx := context.Background()
	h.guard.TrackSuspiciousActivity(ctx, "203.0.113.50", "port scan")
	h.guard.TrackSuspiciousActivity(ctx, "203.0.113.50", "port scan")
	if got := h.guard.SecurityReport().BlockedIPs; got != 1 {
		t.Fatalf("expected 1 blocked IP, got %d", got)
	}
}

func TestSecurityReportNilGuard(t *testing.T) {
	var g *Guard
	if r := g.SecurityReport(); r != (SecurityReport{}) {
		t.Fatalf("expected zero report, got %+v", r)
	}
}
