package printjob

import (
	"strings"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the print job status in the state machine
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {}, // Terminal state
	StatusFailed:     {}, // Terminal state
}

// PrintJob is a sticker print addressed to one printer. Values are immutable:
// every transition returns a new PrintJob together with the event it emits.
type PrintJob struct {
	ID            uuid.UUID
	PrinterID     uuid.UUID
	UserID        string
	StickerID     string
	StickerURL    string
	Status        Status
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	CompletedAt   *time.Time
	FailureReason string
}

// New creates a queued print job.
func New(printerID uuid.UUID, userID, stickerID, stickerURL string, now time.Time) (PrintJob, Queued, error) {
	if printerID == uuid.Nil {
		return PrintJob{}, Queued{}, errors.NewValidationError("printer_id", "is required")
	}
	for _, f := range []struct{ name, value string }{
		{"user_id", userID},
		{"sticker_id", stickerID},
		{"sticker_url", stickerURL},
	} {
		if strings.TrimSpace(f.value) == "" {
			return PrintJob{}, Queued{}, errors.NewValidationError(f.name, "cannot be empty")
		}
	}

	now = now.UTC()
	j := PrintJob{
		ID:         uuid.New(),
		PrinterID:  printerID,
		UserID:     userID,
		StickerID:  stickerID,
		StickerURL: stickerURL,
		Status:     StatusQueued,
		CreatedAt:  now,
	}
	return j, Queued{
		base:       j.base(now),
		UserID:     userID,
		StickerID:  stickerID,
		StickerURL: stickerURL,
	}, nil
}

// CanTransitionTo checks if the job can transition to the given status
func (j PrintJob) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[j.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (j PrintJob) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// MarkProcessing claims a queued job for its printer.
func (j PrintJob) MarkProcessing(now time.Time) (PrintJob, Claimed, error) {
	if !j.CanTransitionTo(StatusProcessing) {
		return j, Claimed{}, errors.InvalidTransition(string(j.Status), string(StatusProcessing))
	}
	now = now.UTC()
	next := j
	next.Status = StatusProcessing
	next.ProcessedAt = &now
	return next, Claimed{base: j.base(now)}, nil
}

// Complete finishes a processing job successfully.
func (j PrintJob) Complete(now time.Time) (PrintJob, Completed, error) {
	if err := j.checkFinish(StatusCompleted); err != nil {
		return j, Completed{}, err
	}
	now = now.UTC()
	next := j
	next.Status = StatusCompleted
	next.CompletedAt = &now
	return next, Completed{base: j.base(now)}, nil
}

// Fail finishes a processing job with a reason.
func (j PrintJob) Fail(reason string, now time.Time) (PrintJob, Failed, error) {
	if err := j.checkFinish(StatusFailed); err != nil {
		return j, Failed{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return j, Failed{}, errors.NewValidationError("reason", "is required when a job fails")
	}
	now = now.UTC()
	next := j
	next.Status = StatusFailed
	next.CompletedAt = &now
	next.FailureReason = reason
	return next, Failed{base: j.base(now), Reason: reason}, nil
}

func (j PrintJob) checkFinish(to Status) error {
	if !j.CanTransitionTo(to) || j.ProcessedAt == nil {
		return errors.InvalidTransition(string(j.Status), string(to))
	}
	return nil
}

func (j PrintJob) base(at time.Time) base {
	return base{PrintJobID: j.ID, PrinterID: j.PrinterID, At: at}
}
