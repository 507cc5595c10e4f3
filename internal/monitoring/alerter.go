package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/config"
	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPhaseFailureRate AlertType = "phase_failure_rate"
	AlertDLQDepth         AlertType = "dlq_depth"
	AlertRecurringGap     AlertType = "recurring_gap"
)

// minPhaseRuns is how many runs a phase needs before its failure rate is
// judged.
const minPhaseRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.Policy
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts,
// phases and gaps in name order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, name := range slices.Sorted(maps.Keys(snap.Phases)) {
		m := snap.Phases[name]
		if m.Ran < minPhaseRuns || m.FailRate <= a.cfg.FailureRateThreshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertPhaseFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"%s phase failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d ran in last %dh)",
				name, m.FailRate*100, a.cfg.FailureRateThreshold*100, m.Failed, m.Ran, snap.LookbackHours,
			),
			Details: map[string]any{
				"phase":        name,
				"failure_rate": m.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       m.Failed,
				"ran":          m.Ran,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth > a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d symbols waiting in the dead letter queue, threshold %d",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
	}

	// A gap left open on most snapshots usually means a provider stopped
	// returning a field.
	if a.cfg.GapRateThreshold > 0 && snap.Snapshots >= minPhaseRuns {
		for _, g := range slices.Sorted(maps.Keys(snap.GapCounts)) {
			rate := float64(snap.GapCounts[g]) / float64(snap.Snapshots)
			if rate <= a.cfg.GapRateThreshold {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertRecurringGap,
				Severity: "low",
				Message: fmt.Sprintf(
					"gap %s left open on %.1f%% of %d snapshots in last %dh",
					g, rate*100, snap.Snapshots, snap.LookbackHours,
				),
				Details: map[string]any{
					"gap":       g,
					"rate":      rate,
					"threshold": a.cfg.GapRateThreshold,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts posts each alert to the configured webhook and returns how many
// were delivered. 5xx and 429 answers are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, "monitoring webhook", func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: alert not delivered",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fetcher.DefaultUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: post webhook"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch code := resp.StatusCode; {
	case code < 300:
		return nil
	case resilience.TransientStatus(code):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook answered %d", code), code)
	default:
		return eris.Errorf("monitoring: webhook answered %d", code)
	}
}
