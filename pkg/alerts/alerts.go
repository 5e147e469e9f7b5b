// Package alerts emits structured operational alerts.
//
// Every alert is logged; when a webhook is configured it is also delivered
// as raw JSON or a slack message, throttled per (alert_type, project_id) so
// a failing batch does not flood the channel.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/logger"
)

var Module = fx.Module("alerts",
	fx.Provide(NewService),
)

// Type identifies an alert kind.
type Type string

const (
	TypeEmbeddingFailure    Type = "embedding_failure"
	TypeOrphanedExtractions Type = "orphaned_extractions"
	TypeJobFailed           Type = "job_failed"
	TypeRecoveryCompleted   Type = "recovery_completed"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert is one structured event.
type Alert struct {
	Type      Type           `json:"type"`
	Level     Level          `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ProjectID string         `json:"project_id,omitempty"`
	SourceID  string         `json:"source_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Service delivers alerts.
type Service struct {
	cfg  config.AlertsConfig
	rdb  *redis.Client
	http *http.Client
	log  *slog.Logger
}

// NewService creates the alert service.
func NewService(cfg *config.Config, rdb *redis.Client, log *slog.Logger) *Service {
	return &Service{
		cfg:  cfg.Alerts,
		rdb:  rdb,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.With(logger.Scope("alerts")),
	}
}

// Emit logs the alert and forwards it to the webhook unless throttled.
// Delivery failures are logged, never propagated.
func (s *Service) Emit(ctx context.Context, alert Alert) {
	s.logAlert(alert)

	if !s.cfg.IsConfigured() {
		return
	}

	ok, err := s.claimThrottleSlot(ctx, alert)
	if err != nil {
		s.log.Warn("alert throttle check failed", logger.Error(err))
		return
	}
	if !ok {
		s.log.Debug("alert throttled",
			slog.String("type", string(alert.Type)),
			slog.String("project_id", alert.ProjectID),
		)
		return
	}

	if err := s.deliver(ctx, alert); err != nil {
		s.log.Warn("alert webhook delivery failed",
			slog.String("type", string(alert.Type)),
			logger.Error(err),
		)
	}
}

func (s *Service) logAlert(alert Alert) {
	attrs := []any{
		slog.String("type", string(alert.Type)),
		slog.String("title", alert.Title),
	}
	if alert.ProjectID != "" {
		attrs = append(attrs, slog.String("project_id", alert.ProjectID))
	}
	if alert.JobID != "" {
		attrs = append(attrs, slog.String("job_id", alert.JobID))
	}
	if alert.SourceID != "" {
		attrs = append(attrs, slog.String("source_id", alert.SourceID))
	}

	msg := alert.Message
	switch alert.Level {
	case LevelInfo:
		s.log.Info(msg, attrs...)
	case LevelWarning:
		s.log.Warn(msg, attrs...)
	default:
		s.log.Error(msg, attrs...)
	}
}

func throttleKey(alert Alert) string {
	return fmt.Sprintf("alerts:throttle:%s:%s", alert.Type, alert.ProjectID)
}

// claimThrottleSlot reserves the webhook window via SET NX EX; only the
// caller that created the key may deliver.
func (s *Service) claimThrottleSlot(ctx context.Context, alert Alert) (bool, error) {
	window := s.cfg.ThrottleWindow
	if window <= 0 {
		window = 300 * time.Second
	}
	return s.rdb.SetNX(ctx, throttleKey(alert), time.Now().Unix(), window).Result()
}

func (s *Service) deliver(ctx context.Context, alert Alert) error {
	if s.cfg.WebhookFormat == "slack" {
		return slack.PostWebhookContext(ctx, s.cfg.WebhookURL, &slack.WebhookMessage{
			Text: fmt.Sprintf("[%s] %s: %s", alert.Level, alert.Title, alert.Message),
		})
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// JobFailed emits the terminal-failure alert for a job.
func (s *Service) JobFailed(ctx context.Context, jobType, jobID, projectID string, jobErr error) {
	s.Emit(ctx, Alert{
		Type:      TypeJobFailed,
		Level:     LevelError,
		Title:     fmt.Sprintf("%s job failed", jobType),
		Message:   jobErr.Error(),
		ProjectID: projectID,
		Details: map[string]any{
			"job_id": jobID,
		},
	})
}

// OrphanedExtractions emits the backlog warning raised by the orphan sweep.
func (s *Service) OrphanedExtractions(ctx context.Context, projectID string, count int) {
	s.Emit(ctx, Alert{
		Type:      TypeOrphanedExtractions,
		Level:     LevelWarning,
		Title:     "orphaned extractions detected",
		Message:   fmt.Sprintf("%d extractions have no vector embedding", count),
		ProjectID: projectID,
		Details: map[string]any{
			"count": count,
		},
	})
}

// RecoveryCompleted emits the post-recovery alert: info when everything
// recovered, warning when some orphans still fail.
func (s *Service) RecoveryCompleted(ctx context.Context, projectID string, recovered, failed int) {
	level := LevelInfo
	if failed > 0 {
		level = LevelWarning
	}
	s.Emit(ctx, Alert{
		Type:      TypeRecoveryCompleted,
		Level:     level,
		Title:     "orphan recovery completed",
		Message:   fmt.Sprintf("recovered %d extractions, %d still failing", recovered, failed),
		ProjectID: projectID,
		Details: map[string]any{
			"recovered": recovered,
			"failed":    failed,
		},
	})
}
