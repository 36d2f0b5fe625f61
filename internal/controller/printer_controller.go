package controller

import (
	"context"
	"net/http"

	printerApp "github.com/cassiomorais/printqueue/internal/application/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/go-chi/chi/v5"
)

type PrinterRegistrar interface {
	Execute(ctx context.Context, req printerApp.RegisterPrinterRequest) (*printerApp.RegisterPrinterResponse, error)
}

type PrinterStatusLister interface {
	Execute(ctx context.Context, eventName string) ([]printer.Status, error)
}

// PrinterController handles operator requests about printers.
type PrinterController struct {
	register PrinterRegistrar
	statuses PrinterStatusLister
}

func NewPrinterController(register PrinterRegistrar, statuses PrinterStatusLister) *PrinterController {
	return &PrinterController{register: register, statuses: statuses}
}

// Register handles POST /api/v1/printers
func (h *PrinterController) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterPrinterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.register.Execute(r.Context(), printerApp.RegisterPrinterRequest{
		EventName: req.EventName,
		Name:      req.Name,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PrinterResponse{
		ID:        resp.Printer.ID.String(),
		EventName: resp.Printer.EventName,
		Name:      resp.Printer.Name,
		Key:       resp.Key,
		CreatedAt: resp.Printer.CreatedAt,
	})
}

// ListStatuses handles GET /api/v1/events/{eventName}/printers
func (h *PrinterController) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.statuses.Execute(r.Context(), chi.URLParam(r, "eventName"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]PrinterStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, FromPrinterStatus(s))
	}
	writeJSON(w, http.StatusOK, resp)
}
