package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/printqueue/internal/application/relay"
	"github.com/cassiomorais/printqueue/internal/storage"
)

// --- Storage Writer Mock ---

// RecordingWriter wraps a storage.Writer and counts which primitive each
// commit used. The ...Func fields override the wrapped writer.
type RecordingWriter struct {
	mu    sync.Mutex
	inner storage.Writer

	PutCalls      int
	DeleteCalls   int
	TransactCalls int
	TransactSizes []int

	PutItemFunc       func(ctx context.Context, table string, item storage.Item, cond storage.Condition) error
	TransactWriteFunc func(ctx context.Context, ops []storage.Operation) error
}

func NewRecordingWriter(inner storage.Writer) *RecordingWriter {
	return &RecordingWriter{inner: inner}
}

func (w *RecordingWriter) PutItem(ctx context.Context, table string, item storage.Item, cond storage.Condition) error {
	w.mu.Lock()
	w.PutCalls++
	w.mu.Unlock()
	if w.PutItemFunc != nil {
		return w.PutItemFunc(ctx, table, item, cond)
	}
	return w.inner.PutItem(ctx, table, item, cond)
}

func (w *RecordingWriter) DeleteItem(ctx context.Context, table string, key storage.Key, cond storage.Condition) error {
	w.mu.Lock()
	w.DeleteCalls++
	w.mu.Unlock()
	return w.inner.DeleteItem(ctx, table, key, cond)
}

func (w *RecordingWriter) TransactWrite(ctx context.Context, ops []storage.Operation) error {
	w.mu.Lock()
	w.TransactCalls++
	w.TransactSizes = append(w.TransactSizes, len(ops))
	w.mu.Unlock()
	if w.TransactWriteFunc != nil {
		return w.TransactWriteFunc(ctx, ops)
	}
	return w.inner.TransactWrite(ctx, ops)
}

// --- Publisher Mock ---

// MockPublisher records published envelopes. PublishFunc, when set, decides
// the outcome of each call.
type MockPublisher struct {
	mu        sync.Mutex
	published []relay.Envelope
	calls     int

	PublishFunc func(ctx context.Context, call int, env relay.Envelope) error
}

func (m *MockPublisher) Publish(ctx context.Context, env relay.Envelope) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, call, env); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, env)
	return nil
}

// Published returns the envelopes accepted so far.
func (m *MockPublisher) Published() []relay.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]relay.Envelope(nil), m.published...)
}

// Calls returns the number of Publish invocations, failed ones included.
func (m *MockPublisher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Lease Mock ---

// MockLocker hands out the lease unless AcquireFunc says otherwise.
type MockLocker struct {
	mu       sync.Mutex
	held     bool
	Acquired int
	Released int

	AcquireFunc func(ctx context.Context) (bool, error)
	ExtendFunc  func(ctx context.Context) error
}

func (m *MockLocker) Acquire(ctx context.Context) (bool, error) {
	if m.AcquireFunc != nil {
		ok, err := m.AcquireFunc(ctx)
		if ok {
			m.mu.Lock()
			m.held = true
			m.Acquired++
			m.mu.Unlock()
		}
		return ok, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = true
	m.Acquired++
	return true, nil
}

func (m *MockLocker) Extend(ctx context.Context, _ time.Duration) error {
	if m.ExtendFunc != nil {
		if err := m.ExtendFunc(ctx); err != nil {
			m.mu.Lock()
			m.held = false
			m.mu.Unlock()
			return err
		}
	}
	return nil
}

func (m *MockLocker) Release(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.Released++
	return nil
}

// Held reports whether the lease is currently held.
func (m *MockLocker) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// --- Key Cache Mock ---

// MockKeyCache is an in-memory printer key cache. VerifiedFunc, when set,
// replaces lookups.
type MockKeyCache struct {
	mu         sync.Mutex
	entries    map[string]struct{}
	Hits       int
	Remembered int

	VerifiedFunc func(ctx context.Context, digest string) (bool, error)
}

func (m *MockKeyCache) Verified(ctx context.Context, digest string) (bool, error) {
	if m.VerifiedFunc != nil {
		return m.VerifiedFunc(ctx, digest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[digest]
	if ok {
		m.Hits++
	}
	return ok, nil
}

func (m *MockKeyCache) Remember(_ context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]struct{})
	}
	m.entries[digest] = struct{}{}
	m.Remembered++
	return nil
}
