package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliverySuccess    DeliveryStatus = "success"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryRetry      DeliveryStatus = "retry"
)

// RejectedSignatureMessage is stored on records whose signature did not verify.
const RejectedSignatureMessage = "rejected: invalid signature"

// DeliveryRecord is the ledger entry for one inbound event.
type DeliveryRecord struct {
	ID            uuid.UUID         `json:"id"`
	ShopDomain    string            `json:"shop_domain"`
	Topic         string            `json:"topic"`
	EventID       *string           `json:"event_id,omitempty"`
	Headers       map[string]string `json:"headers"`
	Body          []byte            `json:"-"`
	Query         map[string]string `json:"query,omitempty"`
	HMACValid     bool              `json:"hmac_valid"`
	Status        DeliveryStatus    `json:"status"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	JobID         *uuid.UUID        `json:"job_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsTerminal reports whether no further processing will happen.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}
