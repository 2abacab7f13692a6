package goGuard

import "time"

// SecurityReport is a read-only summary of the active protections,
// suitable for a startup log line or an admin endpoint. It carries no
// secrets or contact details.
type SecurityReport struct {
	DefaultRateLimit RateLimitReport
	StrictRateLimit  RateLimitReport

	LoginAttemptsLimit int
	LoginLockout       time.Duration
	MaxDevicesPerUser  int

	VerificationMaxAttempts int
	VerificationExpiry      time.Duration

	SuspiciousThreshold int
	BlockDuration       time.Duration
	PermanentBlocks     bool
	ActivityDecay       bool
	ExtraPatterns       int
	ScannedHeaders      int
	AlertingEnabled     bool
	AlertContacts       int
	BlockedIPs          int

	AuditEnabled   bool
	MetricsEnabled bool
}

// RateLimitReport describes one sliding window.
type RateLimitReport struct {
	Requests int
	Window   time.Duration
}

// SecurityReport describes the securityreport operation and its observable behavior.
//
// SecurityReport is computed from the built configuration plus the current
// blocklist size. It never touches Redis.
func (g *Guard) SecurityReport() SecurityReport {
	if g == nil {
		return SecurityReport{}
	}

	c := g.config
	return SecurityReport{
		DefaultRateLimit: RateLimitReport{Requests: c.RateLimit.DefaultRequests, Window: c.RateLimit.DefaultWindow},
		StrictRateLimit:  RateLimitReport{Requests: c.RateLimit.StrictRequests, Window: c.RateLimit.StrictWindow},

		LoginAttemptsLimit: c.Auth.AttemptsLimit,
		LoginLockout:       c.Auth.Lockout(),
		MaxDevicesPerUser:  c.Device.MaxDevicesPerUser,

		VerificationMaxAttempts: c.Verification.MaxAttempts,
		VerificationExpiry:      c.Verification.CodeExpiry,

		SuspiciousThreshold: c.Security.SuspiciousThreshold,
		BlockDuration:       c.Security.BlockDuration,
		PermanentBlocks:     c.Security.BlockDuration == 0,
		ActivityDecay:       c.Security.ActivityWindow > 0,
		ExtraPatterns:       len(c.Security.ExtraSQLPatterns) + len(c.Security.ExtraXSSPatterns),
		ScannedHeaders:      len(c.Security.ScanHeaders),
		AlertingEnabled:     g.alerting,
		AlertContacts:       len(c.Security.AlertEmails) + len(c.Security.AlertPhones),
		BlockedIPs:          len(g.BlockedIPs()),

		AuditEnabled:   c.Audit.Enabled,
		MetricsEnabled: c.Metrics.Enabled,
	}
}
