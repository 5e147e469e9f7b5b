package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/internal/config"
)

func newTestService(t *testing.T, cfg config.AlertsConfig) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Service{
		cfg:  cfg,
		rdb:  rdb,
		http: &http.Client{Timeout: time.Second},
		log:  slog.Default(),
	}, mr
}

func TestEmitWithoutWebhookOnlyLogs(t *testing.T) {
	s, mr := newTestService(t, config.AlertsConfig{Enabled: true})
	s.Emit(context.Background(), Alert{Type: TypeJobFailed, Level: LevelError, Title: "t", Message: "m"})
	assert.Empty(t, mr.Keys())
}

func TestEmitDeliversJSONWebhook(t *testing.T) {
	var received atomic.Int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s, _ := newTestService(t, config.AlertsConfig{
		Enabled:        true,
		WebhookURL:     srv.URL,
		WebhookFormat:  "json",
		ThrottleWindow: 300 * time.Second,
	})

	s.Emit(context.Background(), Alert{
		Type:      TypeEmbeddingFailure,
		Level:     LevelError,
		Title:     "embedding failed",
		Message:   "batch failed",
		ProjectID: "p1",
	})

	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, TypeEmbeddingFailure, got.Type)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestEmitThrottlesPerTypeAndProject(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	s, _ := newTestService(t, config.AlertsConfig{
		Enabled:        true,
		WebhookURL:     srv.URL,
		WebhookFormat:  "json",
		ThrottleWindow: 300 * time.Second,
	})

	ctx := context.Background()
	alert := Alert{Type: TypeEmbeddingFailure, Level: LevelError, Title: "x", Message: "y", ProjectID: "p1"}

	s.Emit(ctx, alert)
	s.Emit(ctx, alert) // throttled
	assert.Equal(t, int32(1), received.Load())

	// Different project gets its own window.
	other := alert
	other.ProjectID = "p2"
	s.Emit(ctx, other)
	assert.Equal(t, int32(2), received.Load())

	// Different type on the same project too.
	jobFailed := alert
	jobFailed.Type = TypeJobFailed
	s.Emit(ctx, jobFailed)
	assert.Equal(t, int32(3), received.Load())
}

func TestThrottleWindowExpires(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	s, mr := newTestService(t, config.AlertsConfig{
		Enabled:        true,
		WebhookURL:     srv.URL,
		WebhookFormat:  "json",
		ThrottleWindow: 300 * time.Second,
	})

	ctx := context.Background()
	alert := Alert{Type: TypeJobFailed, Level: LevelError, Title: "x", Message: "y", ProjectID: "p1"}

	s.Emit(ctx, alert)
	mr.FastForward(301 * time.Second)
	s.Emit(ctx, alert)
	assert.Equal(t, int32(2), received.Load())
}

func TestRecoveryCompletedLevel(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s, mr := newTestService(t, config.AlertsConfig{
		Enabled:        true,
		WebhookURL:     srv.URL,
		WebhookFormat:  "json",
		ThrottleWindow: time.Second,
	})

	s.RecoveryCompleted(context.Background(), "p1", 3, 0)
	assert.Equal(t, LevelInfo, got.Level)

	mr.FastForward(2 * time.Second)
	s.RecoveryCompleted(context.Background(), "p1", 2, 1)
	assert.Equal(t, LevelWarning, got.Level)
}

func TestWebhookFailureDoesNotPanic(t *testing.T) {
	s, _ := newTestService(t, config.AlertsConfig{
		Enabled:        true,
		WebhookURL:     "http://127.0.0.1:1", // nothing listening
		WebhookFormat:  "json",
		ThrottleWindow: time.Second,
	})
	s.Emit(context.Background(), Alert{Type: TypeJobFailed, Level: LevelError, Title: "x", Message: "y"})
}
