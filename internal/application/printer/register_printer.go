package printer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const secretBytes = 24

// RegisterPrinterRequest holds the input for registering a printer.
type RegisterPrinterRequest struct {
	EventName string
	Name      string
}

// RegisterPrinterResponse carries the new printer and its access key. The
// key is only ever returned here; the store keeps a bcrypt hash of it.
type RegisterPrinterResponse struct {
	Printer printer.Printer
	Key     string
}

// RegisterPrinterUseCase creates a printer and its PrinterRegistered event.
type RegisterPrinterUseCase struct {
	printers     PrinterStore
	outbox       OutboxWriter
	coordinators Coordinators
	hashCost     int
	now          func() time.Time
}

// NewRegisterPrinterUseCase creates a new RegisterPrinterUseCase. A cost
// outside bcrypt's range selects bcrypt.DefaultCost.
func NewRegisterPrinterUseCase(printers PrinterStore, outbox OutboxWriter, coordinators Coordinators, hashCost int) *RegisterPrinterUseCase {
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		hashCost = bcrypt.DefaultCost
	}
	return &RegisterPrinterUseCase{
		printers:     printers,
		outbox:       outbox,
		coordinators: coordinators,
		hashCost:     hashCost,
		now:          time.Now,
	}
}

// Execute registers the printer. Names are unique within an event.
func (uc *RegisterPrinterUseCase) Execute(ctx context.Context, req RegisterPrinterRequest) (*RegisterPrinterResponse, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), uc.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash printer credential: %w", err)
	}

	p, registered, err := printer.New(req.EventName, req.Name, string(hash), uc.now())
	if err != nil {
		return nil, err
	}

	c := uc.coordinators.New()
	defer c.Close()

	uc.printers.StageCreate(c, p)
	if _, err := uc.outbox.StoreEventFor(ctx, c, registered); err != nil {
		return nil, fmt.Errorf("stage printer registered event: %w", err)
	}
	if err := c.Commit(ctx); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return nil, domainErrors.NewDomainError(
				"printer_exists",
				fmt.Sprintf("printer %q is already registered for event %q", p.Name, p.EventName),
				domainErrors.ErrPrinterAlreadyExists,
			)
		}
		return nil, fmt.Errorf("persist printer: %w", err)
	}

	return &RegisterPrinterResponse{Printer: p, Key: formatKey(p.ID.String(), secret)}, nil
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate printer secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
