package printer

import (
	"strings"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/google/uuid"
)

// Printer is a device registered for one event. Online status is derived
// from LastHeartbeat and never stored.
type Printer struct {
	ID                 uuid.UUID
	EventName          string
	Name               string
	CredentialHash     string
	LastHeartbeat      *time.Time
	LastJobProcessedAt *time.Time
	CreatedAt          time.Time
	Version            int // Optimistic locking
}

// Status is the derived view returned to operators.
type Status struct {
	PrinterID          uuid.UUID
	Name               string
	Online             bool
	LastHeartbeat      *time.Time
	LastJobProcessedAt *time.Time
}

// New registers a printer. credentialHash is the hashed access credential.
func New(eventName, name, credentialHash string, now time.Time) (Printer, Registered, error) {
	if strings.TrimSpace(eventName) == "" {
		return Printer{}, Registered{}, errors.NewValidationError("event_name", "cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return Printer{}, Registered{}, errors.NewValidationError("printer_name", "cannot be empty")
	}
	if credentialHash == "" {
		return Printer{}, Registered{}, errors.NewValidationError("credential", "cannot be empty")
	}

	now = now.UTC()
	p := Printer{
		ID:             uuid.New(),
		EventName:      eventName,
		Name:           name,
		CredentialHash: credentialHash,
		CreatedAt:      now,
	}
	return p, Registered{
		PrinterID:   p.ID,
		Event:       eventName,
		PrinterName: name,
		At:          now,
	}, nil
}

// Heartbeat records a poll from the device.
func (p Printer) Heartbeat(now time.Time) Printer {
	now = now.UTC()
	p.LastHeartbeat = &now
	p.Version++
	return p
}

// RecordJobProcessed records that the device finished a job.
func (p Printer) RecordJobProcessed(now time.Time) Printer {
	now = now.UTC()
	p.LastJobProcessedAt = &now
	p.Version++
	return p
}

// IsOnline reports whether the last heartbeat lies within window of now.
func (p Printer) IsOnline(now time.Time, window time.Duration) bool {
	if p.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*p.LastHeartbeat) <= window
}

// Status derives the operator view at now.
func (p Printer) Status(now time.Time, window time.Duration) Status {
	return Status{
		PrinterID:          p.ID,
		Name:               p.Name,
		Online:             p.IsOnline(now, window),
		LastHeartbeat:      p.LastHeartbeat,
		LastJobProcessedAt: p.LastJobProcessedAt,
	}
}

// Registered is emitted when a printer is created.
type Registered struct {
	PrinterID   uuid.UUID `json:"printer_id"`
	Event       string    `json:"event_name"`
	PrinterName string    `json:"printer_name"`
	At          time.Time `json:"occurred_at"`
}

func (Registered) EventName() string { return "printer.registered" }

func (Registered) EventVersion() int { return 1 }

func (r Registered) AggregateID() string { return r.PrinterID.String() }
