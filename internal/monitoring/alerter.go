package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate     AlertType = "run_failure_rate"
	AlertCostOverrun     AlertType = "cost_overrun"
	AlertSuspiciousSpike AlertType = "suspicious_input_spike"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Thresholds configures when the alerter fires.
type Thresholds struct {
	// FailureRate is the failed/finished ratio above which to alert,
	// evaluated only once at least five runs have finished.
	FailureRate float64 `yaml:"failure_rate" mapstructure:"failure_rate"`
	// CostUSD alerts when window spend exceeds it. Zero disables.
	CostUSD float64 `yaml:"cost_usd" mapstructure:"cost_usd"`
	// SuspiciousShare alerts when the fraction of parsed items flagged by
	// sanitization exceeds it. Zero disables.
	SuspiciousShare float64 `yaml:"suspicious_share" mapstructure:"suspicious_share"`
	// WebhookURL receives alert JSON via POST. Empty means log only.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Alerter evaluates a MetricsSnapshot against thresholds and sends
// alerts via webhook when they are breached.
type Alerter struct {
	thresholds Thresholds
	client     *http.Client
}

// NewAlerter creates an Alerter with the given thresholds.
func NewAlerter(t Thresholds) *Alerter {
	return &Alerter{
		thresholds: t,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if a.thresholds.FailureRate > 0 && finished >= 5 && snap.FailRate > a.thresholds.FailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.thresholds.FailureRate*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.thresholds.FailureRate,
				"failed":    snap.RunsFailed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	if a.thresholds.CostUSD > 0 && snap.CostUSD > a.thresholds.CostUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Window spend $%.2f exceeds threshold $%.2f (last %dh)",
				snap.CostUSD, a.thresholds.CostUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":  snap.CostUSD,
				"threshold": a.thresholds.CostUSD,
			},
			Timestamp: now,
		})
	}

	if a.thresholds.SuspiciousShare > 0 && snap.ItemsParsed > 0 {
		share := float64(snap.ItemsSuspicious) / float64(snap.ItemsParsed)
		if share > a.thresholds.SuspiciousShare {
			alerts = append(alerts, Alert{
				Type:     AlertSuspiciousSpike,
				Severity: "medium",
				Message: fmt.Sprintf(
					"%.1f%% of parsed items were flagged by input sanitization (threshold %.1f%%)",
					share*100, a.thresholds.SuspiciousShare*100,
				),
				Details: map[string]any{
					"suspicious": snap.ItemsSuspicious,
					"parsed":     snap.ItemsParsed,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts, returning the number sent successfully.
// Without a webhook each alert is logged instead.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	sent := 0
	for _, alert := range alerts {
		if a.thresholds.WebhookURL == "" {
			zap.L().Warn("alert",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
			sent++
			continue
		}
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("alert webhook delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.thresholds.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
