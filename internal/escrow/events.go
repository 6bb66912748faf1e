package escrow

import (
	"context"
	"time"
)

// EventType names an observable state change.
type EventType string

const (
	EventJobPosted            EventType = "EVENT_JOB_POSTED"
	EventJobCancelled         EventType = "EVENT_JOB_CANCELLED"
	EventJobClaimed           EventType = "EVENT_JOB_CLAIMED"
	EventJobExpired           EventType = "EVENT_JOB_EXPIRED"
	EventWorkSubmitted        EventType = "EVENT_WORK_SUBMITTED"
	EventWorkApproved         EventType = "EVENT_WORK_APPROVED"
	EventFundsWithdrawn       EventType = "EVENT_FUNDS_WITHDRAWN"
	EventFreelancerRegistered EventType = "EVENT_FREELANCER_REGISTERED"
	EventFreelancerApproved   EventType = "EVENT_FREELANCER_APPROVED"
	EventConfigUpdated        EventType = "EVENT_CONFIG_UPDATED"
	EventFeesSwept            EventType = "EVENT_FEES_SWEPT"
	EventTokensRecovered      EventType = "EVENT_TOKENS_RECOVERED"
)

// Event is emitted after an operation commits. Amount carries the deposit,
// refund, reward or net withdrawal depending on Type.
type Event struct {
	Type         EventType `json:"type"`
	JobID        uint64    `json:"jobId,omitempty"`
	Actor        Identity  `json:"actor"`
	Counterparty Identity  `json:"counterparty,omitempty"`
	Amount       uint64    `json:"amount,omitempty"`
	Fee          uint64    `json:"fee,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// EventSink receives committed events. Failures are logged by the engine and
// never undo the operation.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }
