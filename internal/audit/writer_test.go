package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/adminguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore captures writes and can be made to fail or block.
type recordingStore struct {
	mu      sync.Mutex
	events  []*models.SecurityEvent
	updates []*models.SecurityEvent
	entries []*models.AuditEntry
	blocks  map[string]*models.IPBlockEntry
	calls   int
	fail    bool

	started chan struct{}
	gate    chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{blocks: map[string]*models.IPBlockEntry{}}
}

func (s *recordingStore) enter() error {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("database is down")
	}
	return nil
}

func (s *recordingStore) CreateSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingStore) UpdateSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, e)
	return nil
}

func (s *recordingStore) CreateAuditEntry(_ context.Context, e *models.AuditEntry) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingStore) SaveIPBlock(_ context.Context, b *models.IPBlockEntry) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.IP] = b
	return nil
}

func (s *recordingStore) DeleteIPBlock(_ context.Context, ip string) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, ip)
	return nil
}

func TestWriterFlushesOnClose(t *testing.T) {
	store := newRecordingStore()
	w := NewWriter(store, Config{QueueSize: 16})

	w.LogRequest(&models.AuditEntry{Path: "/admin", Method: "GET", Allowed: true})
	w.RecordEvent(&models.SecurityEvent{ID: "e1", Type: models.EventLoginFailed})
	w.UpdateEvent(&models.SecurityEvent{ID: "e1", Resolved: true})
	w.SaveBlock(&models.IPBlockEntry{IP: "10.0.0.1", Reason: "auto"})
	w.SaveBlock(&models.IPBlockEntry{IP: "10.0.0.2", Reason: "auto"})
	w.DeleteBlock("10.0.0.1")
	require.NoError(t, w.Close())

	assert.Len(t, store.entries, 1)
	assert.False(t, store.entries[0].Timestamp.IsZero(), "timestamp should be filled in")
	assert.Len(t, store.events, 1)
	assert.Len(t, store.updates, 1)
	assert.Len(t, store.blocks, 1)
	assert.Contains(t, store.blocks, "10.0.0.2")
	assert.EqualValues(t, 6, w.Written())
	assert.Zero(t, w.Dropped())
}

func TestWriterCopiesRecords(t *testing.T) {
	store := newRecordingStore()
	w := NewWriter(store, Config{QueueSize: 4})

	e := &models.SecurityEvent{ID: "e1", Message: "original"}
	w.RecordEvent(e)
	e.Message = "mutated"
	require.NoError(t, w.Close())

	require.Len(t, store.events, 1)
	assert.Equal(t, "original", store.events[0].Message)
}

func TestWriterDropsWhenFull(t *testing.T) {
	store := newRecordingStore()
	store.started = make(chan struct{}, 1)
	store.gate = make(chan struct{})
	w := NewWriter(store, Config{QueueSize: 1})

	w.LogRequest(&models.AuditEntry{Path: "/1"})
	<-store.started // the worker holds record 1
	w.LogRequest(&models.AuditEntry{Path: "/2"}) // fills the queue
	w.LogRequest(&models.AuditEntry{Path: "/3"}) // dropped

	assert.EqualValues(t, 1, w.Dropped())
	close(store.gate)
	require.NoError(t, w.Close())
	assert.Len(t, store.entries, 2)
}

func TestWriterAfterCloseDrops(t *testing.T) {
	w := NewWriter(newRecordingStore(), Config{})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	w.RecordEvent(&models.SecurityEvent{ID: "late"})
	assert.EqualValues(t, 1, w.Dropped())
}

func TestWriterBreakerOpens(t *testing.T) {
	store := newRecordingStore()
	store.fail = true
	w := NewWriter(store, Config{
		QueueSize: 32,
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Timeout:          time.Hour,
			MaxRequests:      1,
		},
	})

	for i := 0; i < 10; i++ {
		w.LogRequest(&models.AuditEntry{Path: "/admin"})
	}
	require.NoError(t, w.Close())

	// After three consecutive failures the breaker short-circuits the rest.
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, "open", w.BreakerState())
	assert.Zero(t, w.Written())
}
