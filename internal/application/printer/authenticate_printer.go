package printer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Printer keys have the form "<printerID>.<secret>".
const keySeparator = "."

func formatKey(printerID, secret string) string {
	return printerID + keySeparator + secret
}

// KeyCache remembers keys that passed verification so repeated polls skip
// the bcrypt comparison.
type KeyCache interface {
	Verified(ctx context.Context, digest string) (bool, error)
	Remember(ctx context.Context, digest string) error
}

// AuthenticatePrinterUseCase resolves a printer key to its printer.
type AuthenticatePrinterUseCase struct {
	printers PrinterStore
	cache    KeyCache
}

// NewAuthenticatePrinterUseCase creates a new AuthenticatePrinterUseCase.
// cache may be nil.
func NewAuthenticatePrinterUseCase(printers PrinterStore, cache KeyCache) *AuthenticatePrinterUseCase {
	return &AuthenticatePrinterUseCase{printers: printers, cache: cache}
}

// Execute returns the printer the key belongs to. Unknown printers and wrong
// secrets both yield ErrInvalidCredential.
func (uc *AuthenticatePrinterUseCase) Execute(ctx context.Context, key string) (printer.Printer, error) {
	rawID, secret, ok := strings.Cut(key, keySeparator)
	if !ok || secret == "" {
		return printer.Printer{}, domainErrors.ErrInvalidCredential
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return printer.Printer{}, domainErrors.ErrInvalidCredential
	}

	p, err := uc.printers.GetByID(ctx, id)
	if errors.Is(err, domainErrors.ErrPrinterNotFound) {
		return printer.Printer{}, domainErrors.ErrInvalidCredential
	}
	if err != nil {
		return printer.Printer{}, err
	}

	// The digest covers the stored hash, so a replaced credential misses.
	digest := keyDigest(p.CredentialHash, key)
	if uc.cache != nil {
		if hit, err := uc.cache.Verified(ctx, digest); err == nil && hit {
			return p, nil
		}
	}
	if bcrypt.CompareHashAndPassword([]byte(p.CredentialHash), []byte(secret)) != nil {
		return printer.Printer{}, domainErrors.ErrInvalidCredential
	}
	if uc.cache != nil {
		// A failed write only costs the next poll another comparison.
		_ = uc.cache.Remember(ctx, digest)
	}
	return p, nil
}

func keyDigest(credentialHash, key string) string {
	sum := sha256.Sum256([]byte(credentialHash + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
