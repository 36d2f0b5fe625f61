package printer_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	outboxApp "github.com/cassiomorais/printqueue/internal/application/outbox"
	printerApp "github.com/cassiomorais/printqueue/internal/application/printer"
	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/cassiomorais/printqueue/internal/storage/memory"
	"github.com/cassiomorais/printqueue/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setup() (*memory.Store, *repository.PrinterRepository, *printerApp.RegisterPrinterUseCase) {
	store := memory.New()
	printers := repository.NewPrinterRepository(store, testutil.Table)
	register := printerApp.NewRegisterPrinterUseCase(
		printers,
		outboxApp.NewWriter(repository.NewOutboxRepository(testutil.Table), time.Hour),
		storage.NewCoordinatorFactory(store, zerolog.Nop()),
		bcrypt.MinCost,
	)
	return store, printers, register
}

func TestRegisterPrinter_CommitsPrinterWithEvent(t *testing.T) {
	store, printers, register := setup()

	resp, err := register.Execute(context.Background(), printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Key, resp.Printer.ID.String()+"."))

	stored, err := printers.GetByID(context.Background(), resp.Printer.ID)
	require.NoError(t, err)
	assert.Equal(t, "booth-1", stored.Name)
	assert.NotContains(t, stored.CredentialHash, strings.TrimPrefix(resp.Key, resp.Printer.ID.String()+"."))

	rows := testutil.OutboxRowsOfType(t, store, "printer.registered.v1")
	require.Len(t, rows, 1)
	assert.Equal(t, resp.Printer.ID.String(), rows[0].AggregateID)
}

func TestRegisterPrinter_DuplicateNameInEvent(t *testing.T) {
	store, _, register := setup()
	ctx := context.Background()

	_, err := register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	require.NoError(t, err)

	_, err = register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	assert.ErrorIs(t, err, domainErrors.ErrPrinterAlreadyExists)
	assert.Len(t, testutil.OutboxRows(t, store), 1)

	_, err = register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "gophercon", Name: "booth-1"})
	assert.NoError(t, err)
}

func TestRegisterPrinter_Validation(t *testing.T) {
	store, _, register := setup()

	_, err := register.Execute(context.Background(), printerApp.RegisterPrinterRequest{EventName: "devfest"})
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
	assert.Empty(t, store.Items(testutil.Table))
}

func TestAuthenticatePrinter(t *testing.T) {
	_, printers, register := setup()
	ctx := context.Background()
	resp, err := register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	require.NoError(t, err)

	auth := printerApp.NewAuthenticatePrinterUseCase(printers, nil)

	p, err := auth.Execute(ctx, resp.Key)
	require.NoError(t, err)
	assert.Equal(t, resp.Printer.ID, p.ID)

	invalid := []string{
		"",
		"no-separator",
		resp.Printer.ID.String() + ".",
		resp.Printer.ID.String() + ".wrong-secret",
		"not-a-uuid.secret",
		uuid.NewString() + "." + strings.TrimPrefix(resp.Key, resp.Printer.ID.String()+"."),
	}
	for _, key := range invalid {
		_, err := auth.Execute(ctx, key)
		assert.ErrorIs(t, err, domainErrors.ErrInvalidCredential, "key %q", key)
	}
}

func TestAuthenticatePrinter_CachesVerifiedKey(t *testing.T) {
	_, printers, register := setup()
	ctx := context.Background()
	resp, err := register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	require.NoError(t, err)

	cache := &testutil.MockKeyCache{}
	auth := printerApp.NewAuthenticatePrinterUseCase(printers, cache)

	for i := 0; i < 3; i++ {
		p, err := auth.Execute(ctx, resp.Key)
		require.NoError(t, err)
		assert.Equal(t, resp.Printer.ID, p.ID)
	}
	assert.Equal(t, 1, cache.Remembered, "only the first call verifies the secret")
	assert.Equal(t, 2, cache.Hits)

	_, err = auth.Execute(ctx, resp.Printer.ID.String()+".wrong-secret")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidCredential)
	assert.Equal(t, 1, cache.Remembered, "rejected keys are not cached")
}

func TestAuthenticatePrinter_CacheUnavailable(t *testing.T) {
	_, printers, register := setup()
	ctx := context.Background()
	resp, err := register.Execute(ctx, printerApp.RegisterPrinterRequest{EventName: "devfest", Name: "booth-1"})
	require.NoError(t, err)

	cache := &testutil.MockKeyCache{
		VerifiedFunc: func(context.Context, string) (bool, error) {
			return false, errors.New("redis: connection refused")
		},
	}
	auth := printerApp.NewAuthenticatePrinterUseCase(printers, cache)

	p, err := auth.Execute(ctx, resp.Key)
	require.NoError(t, err)
	assert.Equal(t, resp.Printer.ID, p.ID)

	_, err = auth.Execute(ctx, resp.Printer.ID.String()+".wrong-secret")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidCredential)
}

func TestListPrinterStatuses(t *testing.T) {
	store, printers, _ := setup()
	ctx := context.Background()

	alive := testutil.SeedPrinter(t, store, "devfest", "b-alive")
	stale := testutil.SeedPrinter(t, store, "devfest", "a-stale")
	testutil.SeedPrinter(t, store, "devfest", "c-never")
	testutil.SeedPrinter(t, store, "other", "x")

	c := storage.NewCoordinator(store, zerolog.Nop())
	printers.StageUpdate(c, alive.Heartbeat(time.Now().Add(-30*time.Second)))
	printers.StageUpdate(c, stale.Heartbeat(time.Now().Add(-10*time.Minute)))
	require.NoError(t, c.Commit(ctx))
	c.Close()

	statuses, err := printerApp.NewListPrinterStatusesUseCase(printers, time.Minute).Execute(ctx, "devfest")
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, "a-stale", statuses[0].Name)
	assert.False(t, statuses[0].Online)
	assert.Equal(t, "b-alive", statuses[1].Name)
	assert.True(t, statuses[1].Online)
	assert.Equal(t, "c-never", statuses[2].Name)
	assert.False(t, statuses[2].Online)
	assert.Nil(t, statuses[2].LastHeartbeat)
}

func TestListPrinterStatuses_RequiresEvent(t *testing.T) {
	_, printers, _ := setup()

	_, err := printerApp.NewListPrinterStatusesUseCase(printers, 0).Execute(context.Background(), " ")
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
}
