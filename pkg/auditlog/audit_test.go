package auditlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *fakeAuditStore) AppendAudit(ctx context.Context, schema string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestWriter(store *fakeAuditStore) *Writer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWriter(store, logger)
}

func TestWriter_AppendFlushesOnClose(t *testing.T) {
	store := &fakeAuditStore{}
	w := newTestWriter(store)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.Append("tenant_a", Entry{CycleID: uuid.New(), ActionTaken: "started"})
	w.Append("tenant_a", Entry{CycleID: uuid.New(), ActionTaken: "cleared"})

	cancel()
	w.Close()

	require.Equal(t, 2, store.count())
}

func TestWriter_OnAlertFiresSynchronouslyForCriticalSeverity(t *testing.T) {
	store := &fakeAuditStore{}
	w := newTestWriter(store)

	var gotSchema string
	var gotEntry Entry
	w.OnAlert(func(schema string, entry Entry) {
		gotSchema = schema
		gotEntry = entry
	})

	w.Append("tenant_a", Entry{ActionTaken: "clear_failed", Severity: "critical"})

	assert.Equal(t, "tenant_a", gotSchema)
	assert.Equal(t, "clear_failed", gotEntry.ActionTaken)
}

func TestWriter_OnAlertNotFiredForNonCriticalEntries(t *testing.T) {
	store := &fakeAuditStore{}
	w := newTestWriter(store)

	fired := false
	w.OnAlert(func(schema string, entry Entry) { fired = true })

	w.Append("tenant_a", Entry{ActionTaken: "continue"})

	assert.False(t, fired)
}

func TestWriter_LogConfigChangeAppendsEntry(t *testing.T) {
	store := &fakeAuditStore{}
	w := newTestWriter(store)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.LogConfigChange("tenant_a", []byte(`{"automationEnabled":false}`))

	cancel()
	w.Close()

	require.Equal(t, 1, store.count())
	assert.Equal(t, "config_updated", store.entries[0].ActionTaken)
}

func TestWriter_AppendDropsWhenBufferFull(t *testing.T) {
	store := &fakeAuditStore{}
	w := newTestWriter(store)
	// Never started: nothing drains the channel, so it fills and further
	// appends are dropped rather than blocking the cycle that called them.
	for i := 0; i < bufferSize+10; i++ {
		w.Append("tenant_a", Entry{CycleID: uuid.New()})
	}

	close(w.entries)
	drained := 0
	for range w.entries {
		drained++
	}
	assert.Equal(t, bufferSize, drained)
}
