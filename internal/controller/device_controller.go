package controller

import (
	"context"
	"net/http"
	"strconv"

	printjobApp "github.com/cassiomorais/printqueue/internal/application/printjob"
	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	customMW "github.com/cassiomorais/printqueue/internal/middleware"
	"github.com/google/uuid"
)

type PrintJobClaimer interface {
	Execute(ctx context.Context, printerID uuid.UUID, maxJobs int) ([]printjob.PrintJob, error)
}

type PrintJobAcknowledger interface {
	Execute(ctx context.Context, req printjobApp.AcknowledgePrintJobRequest) (printjob.PrintJob, error)
}

// DeviceController serves the endpoints polled by printers. The printer
// identity always comes from the authenticated key, never from the request.
type DeviceController struct {
	claim PrintJobClaimer
	ack   PrintJobAcknowledger
}

func NewDeviceController(claim PrintJobClaimer, ack PrintJobAcknowledger) *DeviceController {
	return &DeviceController{claim: claim, ack: ack}
}

// Claim handles POST /api/v1/printer/jobs/claim. It answers 204 when nothing
// is queued.
func (h *DeviceController) Claim(w http.ResponseWriter, r *http.Request) {
	printerID, ok := customMW.GetPrinterID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	maxJobs := 0
	if s := r.URL.Query().Get("max_jobs"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, domainErrors.NewValidationError("max_jobs", "must be an integer"))
			return
		}
		maxJobs = n
	}

	jobs, err := h.claim.Execute(r.Context(), printerID, maxJobs)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(jobs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, FromPrintJobs(jobs))
}

// Acknowledge handles POST /api/v1/printer/jobs/{id}/ack
func (h *DeviceController) Acknowledge(w http.ResponseWriter, r *http.Request) {
	printerID, ok := customMW.GetPrinterID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}
	jobID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req AcknowledgeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := h.ack.Execute(r.Context(), printjobApp.AcknowledgePrintJobRequest{
		PrintJobID: jobID,
		PrinterID:  printerID,
		Success:    *req.Success,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromPrintJob(job))
}
