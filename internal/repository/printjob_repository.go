package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
)

const (
	attrPrintJobID    = "print_job_id"
	attrPrinterID     = "printer_id"
	attrUserID        = "user_id"
	attrStickerID     = "sticker_id"
	attrStickerURL    = "sticker_url"
	attrStatus        = "status"
	attrCreatedAt     = "created_at"
	attrProcessedAt   = "processed_at"
	attrCompletedAt   = "completed_at"
	attrFailureReason = "failure_reason"
)

// PrintJobRepository stores print jobs.
type PrintJobRepository struct {
	reader storage.Reader
	table  string
}

// NewPrintJobRepository creates a new PrintJobRepository.
func NewPrintJobRepository(reader storage.Reader, table string) *PrintJobRepository {
	return &PrintJobRepository{reader: reader, table: table}
}

// GetByID retrieves a print job by its ID.
func (r *PrintJobRepository) GetByID(ctx context.Context, id uuid.UUID) (printjob.PrintJob, error) {
	it, err := r.reader.GetItem(ctx, r.table, storage.Key{PK: printJobPK(id), SK: metadataSK})
	if errors.Is(err, storage.ErrItemNotFound) {
		return printjob.PrintJob{}, domainErrors.ErrPrintJobNotFound
	}
	if err != nil {
		return printjob.PrintJob{}, fmt.Errorf("get print job %s: %w", id, err)
	}
	return decodePrintJob(it)
}

// ListQueued returns up to limit queued jobs of a printer, oldest first.
func (r *PrintJobRepository) ListQueued(ctx context.Context, printerID uuid.UUID, limit int) ([]printjob.PrintJob, error) {
	items, err := r.reader.QueryIndex(ctx, r.table, storage.IndexQuery{
		PartitionValue: printerQueueIndex(printerID, printjob.StatusQueued),
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list queued jobs of printer %s: %w", printerID, err)
	}
	jobs := make([]printjob.PrintJob, 0, len(items))
	for _, it := range items {
		j, err := decodePrintJob(it)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// StageCreate registers the insert of a new job.
func (r *PrintJobRepository) StageCreate(c *storage.Coordinator, j printjob.PrintJob) {
	c.Put(r.table, encodePrintJob(j), storage.NotExists())
}

// StageTransition registers the write of j, guarded on the stored job still
// being in status from.
func (r *PrintJobRepository) StageTransition(c *storage.Coordinator, j printjob.PrintJob, from printjob.Status) {
	c.Put(r.table, encodePrintJob(j), storage.AttributeEquals(attrStatus, string(from)))
}

func encodePrintJob(j printjob.PrintJob) storage.Item {
	it := storage.Item{
		storage.AttrPK:       printJobPK(j.ID),
		storage.AttrSK:       metadataSK,
		storage.AttrItemType: TypePrintJob,
		storage.AttrGSI1PK:   printerQueueIndex(j.PrinterID, j.Status),
		storage.AttrGSI1SK:   sortTime(j.CreatedAt) + "#" + j.ID.String(),
		attrPrintJobID:       j.ID.String(),
		attrPrinterID:        j.PrinterID.String(),
		attrUserID:           j.UserID,
		attrStickerID:        j.StickerID,
		attrStickerURL:       j.StickerURL,
		attrStatus:           string(j.Status),
		attrCreatedAt:        storage.FormatTime(j.CreatedAt),
	}
	if j.ProcessedAt != nil {
		it[attrProcessedAt] = storage.FormatTime(*j.ProcessedAt)
	}
	if j.CompletedAt != nil {
		it[attrCompletedAt] = storage.FormatTime(*j.CompletedAt)
	}
	if j.FailureReason != "" {
		it[attrFailureReason] = j.FailureReason
	}
	return it
}

func decodePrintJob(it storage.Item) (printjob.PrintJob, error) {
	id, err := uuid.Parse(it.String(attrPrintJobID))
	if err != nil {
		return printjob.PrintJob{}, fmt.Errorf("%w: print job id: %v", ErrMalformedItem, err)
	}
	printerID, err := uuid.Parse(it.String(attrPrinterID))
	if err != nil {
		return printjob.PrintJob{}, fmt.Errorf("%w: printer id of job %s: %v", ErrMalformedItem, id, err)
	}
	createdAt, err := it.Time(attrCreatedAt)
	if err != nil {
		return printjob.PrintJob{}, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	processedAt, err := optionalTime(it, attrProcessedAt)
	if err != nil {
		return printjob.PrintJob{}, err
	}
	completedAt, err := optionalTime(it, attrCompletedAt)
	if err != nil {
		return printjob.PrintJob{}, err
	}
	return printjob.PrintJob{
		ID:            id,
		PrinterID:     printerID,
		UserID:        it.String(attrUserID),
		StickerID:     it.String(attrStickerID),
		StickerURL:    it.String(attrStickerURL),
		Status:        printjob.Status(it.String(attrStatus)),
		CreatedAt:     createdAt,
		ProcessedAt:   processedAt,
		CompletedAt:   completedAt,
		FailureReason: it.String(attrFailureReason),
	}, nil
}

func optionalTime(it storage.Item, attr string) (*time.Time, error) {
	t, err := it.Time(attr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}
