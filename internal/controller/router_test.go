package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	outboxApp "github.com/cassiomorais/printqueue/internal/application/outbox"
	printerApp "github.com/cassiomorais/printqueue/internal/application/printer"
	printjobApp "github.com/cassiomorais/printqueue/internal/application/printjob"
	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/printqueue/internal/middleware"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/cassiomorais/printqueue/internal/storage/memory"
	"github.com/cassiomorais/printqueue/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "controller-test-secret"

type testAPI struct {
	t      *testing.T
	router http.Handler
	store  *memory.Store
}

func newTestAPI(t *testing.T, deps ...Dependency) *testAPI {
	t.Helper()
	store := memory.New()
	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	coordinators := storage.NewCoordinatorFactory(store, logger, storage.WithMetrics(metrics))
	jobs := repository.NewPrintJobRepository(store, testutil.Table)
	printers := repository.NewPrinterRepository(store, testutil.Table)
	writer := outboxApp.NewWriter(repository.NewOutboxRepository(testutil.Table), 0)

	router := NewRouter(RouterDeps{
		PrintJobs: NewPrintJobController(
			printjobApp.NewSubmitPrintJobUseCase(jobs, printers, writer, coordinators, metrics),
			printjobApp.NewGetPrintJobUseCase(jobs),
		),
		Printers: NewPrinterController(
			printerApp.NewRegisterPrinterUseCase(printers, writer, coordinators, bcrypt.MinCost),
			printerApp.NewListPrinterStatusesUseCase(printers, 0),
		),
		Devices: NewDeviceController(
			printjobApp.NewClaimPrintJobsUseCase(jobs, printers, writer, coordinators, 0, metrics, logger),
			printjobApp.NewAcknowledgePrintJobUseCase(jobs, printers, writer, coordinators, metrics, logger),
		),
		Health:         NewHealthController(deps...),
		PrinterAuth:    printerApp.NewAuthenticatePrinterUseCase(printers, nil),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Auth:           config.AuthConfig{JWTSecret: testJWTSecret},
		Logger:         logger,
	})
	return &testAPI{t: t, router: router, store: store}
}

type call struct {
	method     string
	path       string
	body       any
	userID     string
	printerKey string
}

func (a *testAPI) do(c call) *httptest.ResponseRecorder {
	a.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(a.t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		token, err := customMW.IssueToken(testJWTSecret, c.userID, time.Hour)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.printerKey != "" {
		req.Header.Set(customMW.PrinterKeyHeader, c.printerKey)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func (a *testAPI) registerPrinter(event, name string) PrinterResponse {
	a.t.Helper()
	w := a.do(call{method: http.MethodPost, path: "/api/v1/printers", userID: "operator",
		body: RegisterPrinterRequest{EventName: event, Name: name}})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[PrinterResponse](a.t, w)
}

func (a *testAPI) submitJob(userID, printerID string) PrintJobResponse {
	a.t.Helper()
	w := a.do(call{method: http.MethodPost, path: "/api/v1/print-jobs", userID: userID,
		body: SubmitPrintJobRequest{PrinterID: printerID, StickerID: "sticker-1", StickerURL: "https://cdn.example.com/stickers/1.png"}})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[PrintJobResponse](a.t, w)
}

func TestRouter_PrintJobLifecycle(t *testing.T) {
	api := newTestAPI(t)
	p := api.registerPrinter("gophercon", "booth-1")
	assert.NotEmpty(t, p.Key)

	job := api.submitJob("user-1", p.ID)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, "user-1", job.UserID)

	got := api.do(call{method: http.MethodGet, path: "/api/v1/print-jobs/" + job.ID, userID: "user-1"})
	require.Equal(t, http.StatusOK, got.Code)

	claim := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim?max_jobs=5", printerKey: p.Key})
	require.Equal(t, http.StatusOK, claim.Code, claim.Body.String())
	claimed := decode[[]PrintJobResponse](t, claim)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
	assert.Equal(t, "processing", claimed[0].Status)
	assert.NotNil(t, claimed[0].ProcessedAt)

	empty := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim", printerKey: p.Key})
	assert.Equal(t, http.StatusNoContent, empty.Code)
	assert.Zero(t, empty.Body.Len())

	success := true
	ack := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
		body: AcknowledgeRequest{Success: &success}})
	require.Equal(t, http.StatusOK, ack.Code, ack.Body.String())
	assert.Equal(t, "completed", decode[PrintJobResponse](t, ack).Status)

	again := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
		body: AcknowledgeRequest{Success: &success}})
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "invalid_state_transition", decode[ErrorResponse](t, again).Code)

	statuses := api.do(call{method: http.MethodGet, path: "/api/v1/events/gophercon/printers", userID: "operator"})
	require.Equal(t, http.StatusOK, statuses.Code)
	list := decode[[]PrinterStatusResponse](t, statuses)
	require.Len(t, list, 1)
	assert.True(t, list[0].Online)
	assert.NotNil(t, list[0].LastJobProcessedAt)

	// queued, claimed, completed and registered
	assert.Len(t, testutil.OutboxRows(t, api.store), 4)
}

func TestRouter_AcknowledgeFailure(t *testing.T) {
	api := newTestAPI(t)
	p := api.registerPrinter("gophercon", "booth-1")
	job := api.submitJob("user-1", p.ID)
	api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim", printerKey: p.Key})

	failed := false
	noReason := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
		body: AcknowledgeRequest{Success: &failed}})
	assert.Equal(t, http.StatusBadRequest, noReason.Code)

	ack := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
		body: AcknowledgeRequest{Success: &failed, Reason: "paper jam"}})
	require.Equal(t, http.StatusOK, ack.Code, ack.Body.String())
	resp := decode[PrintJobResponse](t, ack)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "paper jam", resp.FailureReason)
}

func TestRouter_AcknowledgeOtherPrintersJob(t *testing.T) {
	api := newTestAPI(t)
	owner := api.registerPrinter("gophercon", "booth-1")
	other := api.registerPrinter("gophercon", "booth-2")
	job := api.submitJob("user-1", owner.ID)
	api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim", printerKey: owner.Key})

	success := true
	w := api.do(call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: other.Key,
		body: AcknowledgeRequest{Success: &success}})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ownership_violation", decode[ErrorResponse](t, w).Code)
}

func TestRouter_Rejections(t *testing.T) {
	api := newTestAPI(t)
	p := api.registerPrinter("gophercon", "booth-1")
	job := api.submitJob("user-1", p.ID)

	tests := []struct {
		name       string
		call       call
		wantStatus int
	}{
		{"submit without token", call{method: http.MethodPost, path: "/api/v1/print-jobs",
			body: SubmitPrintJobRequest{PrinterID: p.ID, StickerID: "s", StickerURL: "https://x.example/s.png"}}, http.StatusUnauthorized},
		{"submit bad printer id", call{method: http.MethodPost, path: "/api/v1/print-jobs", userID: "user-1",
			body: SubmitPrintJobRequest{PrinterID: "nope", StickerID: "s", StickerURL: "https://x.example/s.png"}}, http.StatusBadRequest},
		{"submit bad url", call{method: http.MethodPost, path: "/api/v1/print-jobs", userID: "user-1",
			body: SubmitPrintJobRequest{PrinterID: p.ID, StickerID: "s", StickerURL: "not a url"}}, http.StatusBadRequest},
		{"submit unknown printer", call{method: http.MethodPost, path: "/api/v1/print-jobs", userID: "user-1",
			body: SubmitPrintJobRequest{PrinterID: "6f1c1a52-4a8e-4f0e-9a59-1d1f0a3c9e11", StickerID: "s", StickerURL: "https://x.example/s.png"}}, http.StatusNotFound},
		{"get other users job", call{method: http.MethodGet, path: "/api/v1/print-jobs/" + job.ID, userID: "user-2"}, http.StatusNotFound},
		{"get malformed id", call{method: http.MethodGet, path: "/api/v1/print-jobs/123", userID: "user-1"}, http.StatusBadRequest},
		{"claim without key", call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim"}, http.StatusUnauthorized},
		{"claim with wrong key", call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim", printerKey: p.ID + ".deadbeef"}, http.StatusUnauthorized},
		{"claim with user token only", call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim", userID: "user-1"}, http.StatusUnauthorized},
		{"claim bad max_jobs", call{method: http.MethodPost, path: "/api/v1/printer/jobs/claim?max_jobs=ten", printerKey: p.Key}, http.StatusBadRequest},
		{"ack queued job", call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
			body: map[string]any{"success": true}}, http.StatusConflict},
		{"ack missing success", call{method: http.MethodPost, path: "/api/v1/printer/jobs/" + job.ID + "/ack", printerKey: p.Key,
			body: map[string]any{}}, http.StatusBadRequest},
		{"duplicate printer name", call{method: http.MethodPost, path: "/api/v1/printers", userID: "operator",
			body: RegisterPrinterRequest{EventName: "gophercon", Name: "booth-1"}}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.call)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_Health(t *testing.T) {
	down := Dependency{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}
	up := Dependency{Name: "postgres", Ping: func(context.Context) error { return nil }}

	healthy := newTestAPI(t, up)
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		w := healthy.do(call{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	degraded := newTestAPI(t, up, down)
	w := degraded.do(call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unavailable")
}
