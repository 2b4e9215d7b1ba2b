package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate   AlertType = "run_failure_rate"
	AlertCreditExhaustion AlertType = "credit_exhaustion"
	AlertLowEmailCoverage AlertType = "low_email_coverage"
)

// Minimum sample sizes before rate-based alerts fire. Smaller datasets are
// too noisy to act on.
const (
	minFinishedRuns = 5
	minProviders    = 50
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// delivers breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	for _, check := range []func(*MetricsSnapshot) *Alert{
		a.checkRunFailures,
		a.checkCreditSpend,
		a.checkEmailCoverage,
	} {
		if alert := check(snap); alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

func (a *Alerter) checkRunFailures(snap *MetricsSnapshot) *Alert {
	finished := snap.RunComplete + snap.RunFailed
	if finished < minFinishedRuns || snap.RunFailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
			snap.RunFailed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"failure_rate": snap.RunFailRate,
			"threshold":    a.cfg.FailureRateThreshold,
			"failed":       snap.RunFailed,
			"finished":     finished,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (a *Alerter) checkCreditSpend(snap *MetricsSnapshot) *Alert {
	if a.cfg.CreditUtilizationThreshold <= 0 || snap.CreditCap <= 0 ||
		snap.CreditUtilization < a.cfg.CreditUtilizationThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertCreditExhaustion,
		Severity: "high",
		Message: fmt.Sprintf(
			"Search credits %d/%d (%.1f%%) at or above threshold %.1f%%",
			snap.CreditsUsed, snap.CreditCap,
			snap.CreditUtilization*100, a.cfg.CreditUtilizationThreshold*100,
		),
		Details: map[string]any{
			"credits_used": snap.CreditsUsed,
			"credit_cap":   snap.CreditCap,
			"utilization":  snap.CreditUtilization,
			"threshold":    a.cfg.CreditUtilizationThreshold,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (a *Alerter) checkEmailCoverage(snap *MetricsSnapshot) *Alert {
	if a.cfg.EmailCoverageFloor <= 0 || snap.TotalProviders < minProviders ||
		snap.EmailCoverage >= a.cfg.EmailCoverageFloor {
		return nil
	}
	return &Alert{
		Type:     AlertLowEmailCoverage,
		Severity: "medium",
		Message: fmt.Sprintf(
			"Email coverage %.1f%% below floor %.1f%% (%d of %d providers)",
			snap.EmailCoverage*100, a.cfg.EmailCoverageFloor*100,
			snap.WithEmail, snap.TotalProviders,
		),
		Details: map[string]any{
			"coverage":        snap.EmailCoverage,
			"floor":           a.cfg.EmailCoverageFloor,
			"with_email":      snap.WithEmail,
			"total_providers": snap.TotalProviders,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL. It returns the
// number delivered; failures are logged and skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
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

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
