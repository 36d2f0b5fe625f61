package printjob

import (
	"time"

	"github.com/google/uuid"
)

// Event is emitted by every print job transition.
type Event interface {
	EventName() string
	EventVersion() int
	AggregateID() string
}

type base struct {
	PrintJobID uuid.UUID `json:"print_job_id"`
	PrinterID  uuid.UUID `json:"printer_id"`
	At         time.Time `json:"occurred_at"`
}

func (b base) EventVersion() int   { return 1 }
func (b base) AggregateID() string { return b.PrintJobID.String() }

// Queued is emitted when a job is submitted.
type Queued struct {
	base
	UserID     string `json:"user_id"`
	StickerID  string `json:"sticker_id"`
	StickerURL string `json:"sticker_url"`
}

func (Queued) EventName() string { return "print_job.queued" }

// Claimed is emitted when a printer takes a queued job.
type Claimed struct {
	base
}

func (Claimed) EventName() string { return "print_job.claimed" }

// Completed is emitted when a printer reports success.
type Completed struct {
	base
}

func (Completed) EventName() string { return "print_job.completed" }

// Failed is emitted when a printer reports failure.
type Failed struct {
	base
	Reason string `json:"failure_reason"`
}

func (Failed) EventName() string { return "print_job.failed" }
