package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Notifier sends operator notifications. Implementations wrap whatever
// email and SMS providers the deployment uses.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, body string) error
}

// ContactAlerter fans an alert out by email and SMS to fixed operator
// contacts. Delivery continues past individual failures and the joined
// error is returned.
type ContactAlerter struct {
	Notifier Notifier
	Emails   []string
	Phones   []string
}

// Alert sends one email per address and one SMS per phone. Every contact
// is attempted; failures are joined into the returned error.
func (a ContactAlerter) Alert(ctx context.Context, alert Alert) error {
	if a.Notifier == nil {
		return nil
	}

	subject := fmt.Sprintf("[security] IP %s blocked", alert.IP)
	body := formatAlert(alert)
	sms := fmt.Sprintf("Security alert %s: IP %s blocked after %d suspicious events", shortID(alert.ID), alert.IP, alert.Count)

	var errs []error
	for _, to := range a.Emails {
		if err := a.Notifier.SendEmail(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("email %s: %w", to, err))
		}
	}
	for _, to := range a.Phones {
		if err := a.Notifier.SendSMS(ctx, to, sms); err != nil {
			errs = append(errs, fmt.Errorf("sms %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func formatAlert(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert ID: %s\n", alert.ID)
	fmt.Fprintf(&b, "IP: %s\n", alert.IP)
	fmt.Fprintf(&b, "Blocked at: %s\n", alert.BlockedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Events: %d\n\n", alert.Count)
	for _, act := range alert.Activities {
		fmt.Fprintf(&b, "%s  %s\n", act.At.UTC().Format(time.RFC3339), act.Description)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
