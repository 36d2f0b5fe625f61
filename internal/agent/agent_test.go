package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/printqueue/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testKey = "printer-id.secret"

type ackBody struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// fakeAPI serves the printer endpoints from a fixed queue.
type fakeAPI struct {
	mu         sync.Mutex
	queue      []Job
	acks       map[string]ackBody
	claimCalls int
	claimFail  int
	ackStatus  int
	maxJobsArg []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/printer/jobs/claim", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get(printerKeyHeader) != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"printer_auth_invalid"}`))
			return
		}
		f.claimCalls++
		f.maxJobsArg = append(f.maxJobsArg, r.URL.Query().Get("max_jobs"))
		if f.claimFail > 0 {
			f.claimFail--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if len(f.queue) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jobs := f.queue
		f.queue = nil
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(jobs))
	})
	mux.HandleFunc("POST /api/v1/printer/jobs/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.ackStatus != 0 {
			w.WriteHeader(f.ackStatus)
			return
		}
		var body ackBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.acks[r.PathValue("id")] = body
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newFakeAPI(t *testing.T, jobs ...Job) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{queue: jobs, acks: map[string]ackBody{}}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL:    srv.URL + "/",
		PrinterKey: testKey,
		Retry:      retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, srv.Client())
	return api, client
}

type recordingPrinter struct {
	mu      sync.Mutex
	printed []string
	fail    map[string]error
}

func (p *recordingPrinter) Print(_ context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = append(p.printed, job.ID)
	return p.fail[job.ID]
}

func TestClient_Claim(t *testing.T) {
	api, client := newFakeAPI(t, Job{ID: "j1", StickerURL: "https://cdn.example.com/1.png"}, Job{ID: "j2"})

	jobs, err := client.Claim(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "https://cdn.example.com/1.png", jobs[0].StickerURL)

	empty, err := client.Claim(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, []string{"5", ""}, api.maxJobsArg)
}

func TestClient_ClaimRetriesServerErrors(t *testing.T) {
	api, client := newFakeAPI(t, Job{ID: "j1"})
	api.claimFail = 2

	jobs, err := client.Claim(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 3, api.claimCalls)
}

func TestClient_ClaimGivesUpAfterAttempts(t *testing.T) {
	api, client := newFakeAPI(t)
	api.claimFail = 10

	_, err := client.Claim(context.Background(), 1)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, 3, api.claimCalls)
}

func TestClient_UnauthorizedIsNotRetried(t *testing.T) {
	_, client := newFakeAPI(t)
	client.key = "wrong"

	_, err := client.Claim(context.Background(), 1)

	require.ErrorIs(t, err, ErrUnauthorized)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "printer_auth_invalid", se.Code)
}

func TestClient_AcknowledgeConflict(t *testing.T) {
	api, client := newFakeAPI(t)
	api.ackStatus = http.StatusConflict

	err := client.Acknowledge(context.Background(), "j1", true, "")

	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestAgent_PollOnce(t *testing.T) {
	api, client := newFakeAPI(t, Job{ID: "j1"}, Job{ID: "j2"}, Job{ID: "j3"})
	printer := &recordingPrinter{fail: map[string]error{"j2": errors.New("paper jam")}}
	a := New(client, printer, 10, zerolog.Nop())

	n, err := a.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"j1", "j2", "j3"}, printer.printed)
	assert.Equal(t, ackBody{Success: true}, api.acks["j1"])
	assert.Equal(t, ackBody{Success: false, Reason: "paper jam"}, api.acks["j2"])
	assert.Equal(t, ackBody{Success: true}, api.acks["j3"])
}

func TestAgent_PollOnceContinuesAfterAckFailure(t *testing.T) {
	api, client := newFakeAPI(t, Job{ID: "j1"}, Job{ID: "j2"})
	api.ackStatus = http.StatusBadRequest
	printer := &recordingPrinter{}

	n, err := New(client, printer, 10, zerolog.Nop()).PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"j1", "j2"}, printer.printed)
}

func TestAgent_RunStopsOnRejectedKey(t *testing.T) {
	_, client := newFakeAPI(t)
	client.key = "wrong"

	err := New(client, &recordingPrinter{}, 10, zerolog.Nop()).Run(context.Background(), time.Hour)

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAgent_RunUntilCancelled(t *testing.T) {
	api, client := newFakeAPI(t, Job{ID: "j1"})
	printer := &recordingPrinter{}
	ctx, cancel := context.WithCancel(context.Background())

	var done atomic.Bool
	go func() {
		defer done.Store(true)
		assert.NoError(t, New(client, printer, 10, zerolog.Nop()).Run(ctx, 5*time.Millisecond))
	}()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.acks) == 1 && api.claimCalls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, done.Load, time.Second, 5*time.Millisecond)
}

func TestSpoolPrinter(t *testing.T) {
	art := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("PNGDATA"))
	}))
	defer art.Close()

	dir := t.TempDir()
	p := NewSpoolPrinter(dir, art.Client(), zerolog.Nop())

	require.NoError(t, p.Print(context.Background(), Job{ID: "j1", StickerURL: art.URL + "/stickers/cat.png"}))
	data, err := os.ReadFile(filepath.Join(dir, "j1.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	err = p.Print(context.Background(), Job{ID: "j2", StickerURL: art.URL + "/missing.png"})
	assert.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed downloads leave nothing behind")
}
