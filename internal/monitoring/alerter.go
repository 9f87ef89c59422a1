package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSyncFailureRate AlertType = "sync_failure_rate"
	AlertFailingRegions  AlertType = "failing_regions"
	AlertStuckSyncs      AlertType = "stuck_syncs"
)

// minFinishedForRate keeps one bad region from tripping the rate alert on
// tiny runs.
const minFinishedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a SyncSnapshot against configured thresholds and posts
// alerts to a webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *SyncSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.Complete + snap.Failed
	if finished >= minFinishedForRate && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
				"by_kind":      snap.FailedByKind,
			},
			Timestamp: now,
		})
	}

	if len(snap.FailingKeys) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertFailingRegions,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d region/source pair(s) failed their latest sync: %s",
				len(snap.FailingKeys), strings.Join(snap.FailingKeys, ", "),
			),
			Details: map[string]any{
				"keys": snap.FailingKeys,
			},
			Timestamp: now,
		})
	}

	if snap.Running > 0 && finished == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckSyncs,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d sync(s) started in last %dh and none finished",
				snap.Running, snap.LookbackHours,
			),
			Details: map[string]any{
				"running": snap.Running,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Check collects a snapshot, evaluates it and sends whatever fires. Errors
// are logged; alerting never fails the command that triggered it.
func Check(ctx context.Context, c *Collector, a *Alerter, lookbackHours int) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.check"))

	snap, err := c.Collect(ctx, lookbackHours)
	if err != nil {
		log.Error("monitoring: failed to collect sync snapshot", zap.Error(err))
		return nil
	}

	alerts := a.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := a.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
