package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
)

const (
	attrEventName          = "event_name"
	attrPrinterName        = "printer_name"
	attrCredentialHash     = "credential_hash"
	attrLastHeartbeat      = "last_heartbeat"
	attrLastJobProcessedAt = "last_job_processed_at"
	attrVersion            = "version"
)

// PrinterRepository stores printers and the per-event name guard that keeps
// printer names unique within an event.
type PrinterRepository struct {
	reader storage.Reader
	table  string
}

// NewPrinterRepository creates a new PrinterRepository.
func NewPrinterRepository(reader storage.Reader, table string) *PrinterRepository {
	return &PrinterRepository{reader: reader, table: table}
}

// GetByID retrieves a printer by its ID.
func (r *PrinterRepository) GetByID(ctx context.Context, id uuid.UUID) (printer.Printer, error) {
	it, err := r.reader.GetItem(ctx, r.table, storage.Key{PK: printerPK(id), SK: metadataSK})
	if errors.Is(err, storage.ErrItemNotFound) {
		return printer.Printer{}, domainErrors.ErrPrinterNotFound
	}
	if err != nil {
		return printer.Printer{}, fmt.Errorf("get printer %s: %w", id, err)
	}
	return decodePrinter(it)
}

// ListByEvent returns the printers of an event ordered by name.
func (r *PrinterRepository) ListByEvent(ctx context.Context, eventName string) ([]printer.Printer, error) {
	items, err := r.reader.QueryIndex(ctx, r.table, storage.IndexQuery{PartitionValue: eventIndex(eventName)})
	if err != nil {
		return nil, fmt.Errorf("list printers of event %s: %w", eventName, err)
	}
	printers := make([]printer.Printer, 0, len(items))
	for _, it := range items {
		p, err := decodePrinter(it)
		if err != nil {
			return nil, err
		}
		printers = append(printers, p)
	}
	return printers, nil
}

// StageCreate registers the insert of a new printer together with its name
// guard. A taken name fails the whole commit with storage.ErrConditionFailed.
func (r *PrinterRepository) StageCreate(c *storage.Coordinator, p printer.Printer) {
	c.Put(r.table, encodePrinter(p), storage.NotExists())
	c.Put(r.table, storage.Item{
		storage.AttrPK:       eventIndex(p.EventName),
		storage.AttrSK:       namePrefix + p.Name,
		storage.AttrItemType: TypePrinterName,
		attrPrinterID:        p.ID.String(),
	}, storage.NotExists())
}

// StageUpdate registers a write of p that only applies while the stored
// printer is still at p.Version-1. A concurrent update fails the commit with
// storage.ErrConditionFailed.
func (r *PrinterRepository) StageUpdate(c *storage.Coordinator, p printer.Printer) {
	c.Put(r.table, encodePrinter(p), storage.AttributeEquals(attrVersion, strconv.Itoa(p.Version-1)))
}

func encodePrinter(p printer.Printer) storage.Item {
	it := storage.Item{
		storage.AttrPK:       printerPK(p.ID),
		storage.AttrSK:       metadataSK,
		storage.AttrItemType: TypePrinter,
		storage.AttrGSI1PK:   eventIndex(p.EventName),
		storage.AttrGSI1SK:   printerPrefix + p.Name + "#" + p.ID.String(),
		attrPrinterID:        p.ID.String(),
		attrEventName:        p.EventName,
		attrPrinterName:      p.Name,
		attrCredentialHash:   p.CredentialHash,
		attrCreatedAt:        storage.FormatTime(p.CreatedAt),
		attrVersion:          strconv.Itoa(p.Version),
	}
	if p.LastHeartbeat != nil {
		it[attrLastHeartbeat] = storage.FormatTime(*p.LastHeartbeat)
	}
	if p.LastJobProcessedAt != nil {
		it[attrLastJobProcessedAt] = storage.FormatTime(*p.LastJobProcessedAt)
	}
	return it
}

func decodePrinter(it storage.Item) (printer.Printer, error) {
	id, err := uuid.Parse(it.String(attrPrinterID))
	if err != nil {
		return printer.Printer{}, fmt.Errorf("%w: printer id: %v", ErrMalformedItem, err)
	}
	createdAt, err := it.Time(attrCreatedAt)
	if err != nil {
		return printer.Printer{}, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	heartbeat, err := optionalTime(it, attrLastHeartbeat)
	if err != nil {
		return printer.Printer{}, err
	}
	lastJob, err := optionalTime(it, attrLastJobProcessedAt)
	if err != nil {
		return printer.Printer{}, err
	}
	version := 0
	if s := it.String(attrVersion); s != "" {
		if version, err = strconv.Atoi(s); err != nil {
			return printer.Printer{}, fmt.Errorf("%w: printer version: %v", ErrMalformedItem, err)
		}
	}
	return printer.Printer{
		ID:                 id,
		EventName:          it.String(attrEventName),
		Name:               it.String(attrPrinterName),
		CredentialHash:     it.String(attrCredentialHash),
		LastHeartbeat:      heartbeat,
		LastJobProcessedAt: lastJob,
		CreatedAt:          createdAt,
		Version:            version,
	}, nil
}
