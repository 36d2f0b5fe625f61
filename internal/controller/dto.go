package controller

import (
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
)

// --- Request DTOs ---

// SubmitPrintJobRequest holds the input for queueing a sticker print.
type SubmitPrintJobRequest struct {
	PrinterID  string `json:"printer_id" validate:"required,uuid"`
	StickerID  string `json:"sticker_id" validate:"required,max=128"`
	StickerURL string `json:"sticker_url" validate:"required,url,max=2048"`
}

// RegisterPrinterRequest holds the input for registering a printer.
type RegisterPrinterRequest struct {
	EventName string `json:"event_name" validate:"required,max=128"`
	Name      string `json:"name" validate:"required,max=128"`
}

// AcknowledgeRequest reports the outcome of a print. Reason is required when
// Success is false.
type AcknowledgeRequest struct {
	Success *bool  `json:"success" validate:"required"`
	Reason  string `json:"reason" validate:"max=1024"`
}

// --- Response DTOs ---

// PrintJobResponse represents a print job in API responses.
type PrintJobResponse struct {
	ID            string     `json:"id"`
	PrinterID     string     `json:"printer_id"`
	UserID        string     `json:"user_id"`
	StickerID     string     `json:"sticker_id"`
	StickerURL    string     `json:"sticker_url"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// PrinterResponse is returned once, at registration. Key is never shown again.
type PrinterResponse struct {
	ID        string    `json:"id"`
	EventName string    `json:"event_name"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// PrinterStatusResponse is the operator view of a printer.
type PrinterStatusResponse struct {
	PrinterID          string     `json:"printer_id"`
	Name               string     `json:"name"`
	Online             bool       `json:"online"`
	LastHeartbeat      *time.Time `json:"last_heartbeat,omitempty"`
	LastJobProcessedAt *time.Time `json:"last_job_processed_at,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromPrintJob converts a domain print job to API response.
func FromPrintJob(j printjob.PrintJob) PrintJobResponse {
	return PrintJobResponse{
		ID:            j.ID.String(),
		PrinterID:     j.PrinterID.String(),
		UserID:        j.UserID,
		StickerID:     j.StickerID,
		StickerURL:    j.StickerURL,
		Status:        string(j.Status),
		CreatedAt:     j.CreatedAt,
		ProcessedAt:   j.ProcessedAt,
		CompletedAt:   j.CompletedAt,
		FailureReason: j.FailureReason,
	}
}

func FromPrintJobs(jobs []printjob.PrintJob) []PrintJobResponse {
	out := make([]PrintJobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, FromPrintJob(j))
	}
	return out
}

func FromPrinterStatus(s printer.Status) PrinterStatusResponse {
	return PrinterStatusResponse{
		PrinterID:          s.PrinterID.String(),
		Name:               s.Name,
		Online:             s.Online,
		LastHeartbeat:      s.LastHeartbeat,
		LastJobProcessedAt: s.LastJobProcessedAt,
	}
}
