// Package repository maps aggregates and outbox rows onto storage items.
// Reads go straight to the store; writes are staged on a Coordinator so the
// caller commits them together with their outbox rows.
package repository

import (
	"errors"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/google/uuid"
)

// Item type discriminators.
const (
	TypePrintJob    = "print_job"
	TypePrinter     = "printer"
	TypePrinterName = "printer_name"
)

const (
	printJobPrefix = "PRINTJOB#"
	printerPrefix  = "PRINTER#"
	eventPrefix    = "EVENT#"
	namePrefix     = "PRINTERNAME#"
	metadataSK     = "METADATA"

	// Fixed width so index sort keys order chronologically.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrMalformedItem is returned when a stored item cannot be decoded.
var ErrMalformedItem = errors.New("malformed item")

func printJobPK(id uuid.UUID) string {
	return printJobPrefix + id.String()
}

func printerPK(id uuid.UUID) string {
	return printerPrefix + id.String()
}

// printerQueueIndex partitions jobs by target printer and status.
func printerQueueIndex(printerID uuid.UUID, status printjob.Status) string {
	return printerPrefix + printerID.String() + "#STATUS#" + string(status)
}

func eventIndex(eventName string) string {
	return eventPrefix + eventName
}

func sortTime(t time.Time) string {
	return t.UTC().Format(sortTimeLayout)
}
