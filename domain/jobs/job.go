// Package jobs provides the durable PostgreSQL-backed job store.
//
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers never double-claim,
// and a stale running job (updated_at older than the per-type threshold) is
// re-claimable through the same path. Cancellation is cooperative: callers
// flip the job to cancelling and workers acknowledge at loop boundaries.
package jobs

import (
	"time"

	"github.com/uptrace/bun"
)

// Type identifies the kind of work a job carries.
type Type string

const (
	TypeScrape  Type = "scrape"
	TypeCrawl   Type = "crawl"
	TypeExtract Type = "extract"
	TypeReport  Type = "report"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one unit of work.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID        string         `bun:"id,pk" json:"id"`
	ProjectID string         `bun:"project_id" json:"project_id"`
	Type      Type           `bun:"type" json:"type"`
	Status    Status         `bun:"status" json:"status"`
	Priority  int            `bun:"priority" json:"priority"`
	Payload   map[string]any `bun:"payload,type:jsonb" json:"payload"`
	Result    map[string]any `bun:"result,type:jsonb" json:"result,omitempty"`
	Error     string         `bun:"error" json:"error,omitempty"`

	CreatedAt               time.Time  `bun:"created_at,nullzero,default:now()" json:"created_at"`
	StartedAt               *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt             *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt               time.Time  `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
	CancellationRequestedAt *time.Time `bun:"cancellation_requested_at" json:"cancellation_requested_at,omitempty"`
}
