package printer

import (
	"context"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
)

// DefaultOnlineWindow is how recent a heartbeat must be for a printer to
// count as online.
const DefaultOnlineWindow = 2 * time.Minute

// ListPrinterStatusesUseCase reports the printers of an event with their
// derived online status.
type ListPrinterStatusesUseCase struct {
	printers     PrinterStore
	onlineWindow time.Duration
	now          func() time.Time
}

// NewListPrinterStatusesUseCase creates a new ListPrinterStatusesUseCase.
func NewListPrinterStatusesUseCase(printers PrinterStore, onlineWindow time.Duration) *ListPrinterStatusesUseCase {
	if onlineWindow <= 0 {
		onlineWindow = DefaultOnlineWindow
	}
	return &ListPrinterStatusesUseCase{printers: printers, onlineWindow: onlineWindow, now: time.Now}
}

// Execute lists statuses ordered by printer name.
func (uc *ListPrinterStatusesUseCase) Execute(ctx context.Context, eventName string) ([]printer.Status, error) {
	if strings.TrimSpace(eventName) == "" {
		return nil, domainErrors.NewValidationError("event_name", "cannot be empty")
	}
	printers, err := uc.printers.ListByEvent(ctx, eventName)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	statuses := make([]printer.Status, 0, len(printers))
	for _, p := range printers {
		statuses = append(statuses, p.Status(now, uc.onlineWindow))
	}
	return statuses, nil
}
