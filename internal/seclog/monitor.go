package seclog

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Severity ranks alerts produced by the monitoring scan.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Alert is one finding from a scan.
type Alert struct {
	Rule     string
	Severity Severity
	Key      string
	Count    int
	Detail   string
}

// Notifier is the external delivery collaborator for alerts at or above
// the notification threshold.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Monitor evaluates the recent audit trail against detection rules.
// It runs out-of-band, never on the request path.
type Monitor struct {
	store    EventStore
	notifier Notifier

	failedLoginThreshold int
	rateLimitThreshold   int
	notifyAt             Severity
}

// MonitorOption configures Monitor behavior.
type MonitorOption func(*Monitor)

// WithNotifier sets the alert delivery collaborator.
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) { m.notifier = n }
}

// WithThresholds overrides the per-rule trip counts.
func WithThresholds(failedLogins, rateLimited int) MonitorOption {
	return func(m *Monitor) {
		if failedLogins > 0 {
			m.failedLoginThreshold = failedLogins
		}
		if rateLimited > 0 {
			m.rateLimitThreshold = rateLimited
		}
	}
}

// NewMonitor constructs a Monitor over the event store.
func NewMonitor(store EventStore, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:                store,
		failedLoginThreshold: 5,
		rateLimitThreshold:   20,
		notifyAt:             SeverityHigh,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scan evaluates events recorded since the given time and returns
// severity-ranked alerts, highest first. Alerts at or above the
// notification threshold are handed to the notifier; notification
// failures do not fail the scan.
func (m *Monitor) Scan(ctx context.Context, since time.Time) ([]Alert, error) {
	events, err := m.store.Recent(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("seclog: scan: %w", err)
	}

	var (
		failedLoginsByIP = make(map[string]int)
		forgerySignals   = make(map[string]int)
		refreshReuse     int
		rateLimited      int
	)
	for _, e := range events {
		switch e.Type {
		case EventLoginFailure:
			if e.IP != "" {
				failedLoginsByIP[e.IP]++
			}
		case EventTokenRejected:
			if e.Detail == DetailWrongAlgorithm || e.Detail == DetailInvalidSignature {
				forgerySignals[e.IP]++
			}
		case EventRefreshReused:
			refreshReuse++
		case EventRateLimited:
			rateLimited++
		}
	}

	var alerts []Alert
	for ip, n := range failedLoginsByIP {
		if n >= m.failedLoginThreshold {
			alerts = append(alerts, Alert{
				Rule:     "repeated_failed_logins",
				Severity: SeverityHigh,
				Key:      ip,
				Count:    n,
				Detail:   fmt.Sprintf("%d failed logins from %s", n, ip),
			})
		}
	}
	for ip, n := range forgerySignals {
		alerts = append(alerts, Alert{
			Rule:     "token_forgery_signals",
			Severity: SeverityHigh,
			Key:      ip,
			Count:    n,
			Detail:   fmt.Sprintf("%d forged or tampered tokens from %s", n, ip),
		})
	}
	if refreshReuse > 0 {
		alerts = append(alerts, Alert{
			Rule:     "refresh_token_reuse",
			Severity: SeverityCritical,
			Count:    refreshReuse,
			Detail:   fmt.Sprintf("%d rotated refresh tokens replayed", refreshReuse),
		})
	}
	if rateLimited >= m.rateLimitThreshold {
		alerts = append(alerts, Alert{
			Rule:     "rate_limit_spike",
			Severity: SeverityMedium,
			Count:    rateLimited,
			Detail:   fmt.Sprintf("%d rate-limited requests", rateLimited),
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity > alerts[j].Severity
	})

	if m.notifier != nil {
		for _, a := range alerts {
			if a.Severity >= m.notifyAt {
				_ = m.notifier.Notify(ctx, a)
			}
		}
	}
	return alerts, nil
}
