package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lane is an independently drained partition of the job queue.
type Lane string

const (
	LaneWebhook Lane = "webhooks"
	LaneGeneral Lane = "general"
)

// Lanes lists every lane in drain order.
var Lanes = []Lane{LaneWebhook, LaneGeneral}

func (l Lane) Valid() bool {
	return l == LaneWebhook || l == LaneGeneral
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// General lane job types.
const (
	JobTypeCredentialCheck = "tenant.credential_check"
)

// Job is one unit of queued work.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Lane         Lane       `json:"lane"`
	Type         string     `json:"type"`
	Payload      []byte     `json:"payload"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ErrorStack   *string    `json:"error_stack,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CanRetry reports whether another attempt is allowed after the current one.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// WebhookJobPayload is the webhook lane payload. The raw body stays in the
// ledger; workers load it by delivery id.
type WebhookJobPayload struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	ShopDomain string    `json:"shop_domain"`
	Topic      string    `json:"topic"`
	EventID    string    `json:"event_id,omitempty"`
}

// TenantJobPayload targets one tenant on the general lane.
type TenantJobPayload struct {
	ShopDomain string `json:"shop_domain"`
}
