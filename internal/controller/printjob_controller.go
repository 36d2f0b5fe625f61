package controller

import (
	"context"
	"net/http"

	printjobApp "github.com/cassiomorais/printqueue/internal/application/printjob"
	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	customMW "github.com/cassiomorais/printqueue/internal/middleware"
	"github.com/google/uuid"
)

type PrintJobSubmitter interface {
	Execute(ctx context.Context, req printjobApp.SubmitPrintJobRequest) (printjob.PrintJob, error)
}

type PrintJobGetter interface {
	Execute(ctx context.Context, id uuid.UUID) (printjob.PrintJob, error)
}

// PrintJobController handles user-facing print job requests.
type PrintJobController struct {
	submit PrintJobSubmitter
	get    PrintJobGetter
}

// NewPrintJobController creates a new PrintJobController.
func NewPrintJobController(submit PrintJobSubmitter, get PrintJobGetter) *PrintJobController {
	return &PrintJobController{submit: submit, get: get}
}

// Submit handles POST /api/v1/print-jobs
func (h *PrintJobController) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, domainErrors.ErrUnauthorized)
		return
	}

	var req SubmitPrintJobRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := h.submit.Execute(r.Context(), printjobApp.SubmitPrintJobRequest{
		PrinterID:  uuid.MustParse(req.PrinterID),
		UserID:     userID,
		StickerID:  req.StickerID,
		StickerURL: req.StickerURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromPrintJob(job))
}

// Get handles GET /api/v1/print-jobs/{id}. Users only see their own jobs.
func (h *PrintJobController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.get.Execute(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if userID, _ := customMW.GetUserID(r.Context()); job.UserID != userID {
		writeError(w, domainErrors.ErrPrintJobNotFound)
		return
	}

	writeJSON(w, http.StatusOK, FromPrintJob(job))
}
