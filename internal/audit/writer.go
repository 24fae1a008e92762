// Package audit persists security events, audit entries and IP blocks off the request path.
//
// Records are handed to a buffered queue drained by a single worker. Store writes go
// through a circuit breaker so a failing database costs one fast error per record
// instead of a timeout. A full queue drops the record and counts it; nothing here ever
// blocks or fails a request.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/org/adminguard/internal/metrics"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Store is the subset of the storage backend the writer needs.
type Store interface {
	CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	UpdateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	SaveIPBlock(ctx context.Context, block *models.IPBlockEntry) error
	DeleteIPBlock(ctx context.Context, ip string) error
}

// BreakerConfig tunes the circuit breaker around store writes.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
}

// Config sizes the writer.
type Config struct {
	QueueSize    int           `koanf:"queue_size" validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// DefaultConfig returns the writer defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			MaxRequests:      1,
			Interval:         time.Minute,
		},
	}
}

type record struct {
	kind  string
	write func(ctx context.Context, s Store) error
}

// Writer is an asynchronous, lossy sink in front of a Store.
type Writer struct {
	store   Store
	queue   chan record
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	written atomic.Int64
}

// NewWriter starts a Writer draining into store. Call Close to flush and stop it.
func NewWriter(store Store, cfg Config) *Writer {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = def.Breaker
	}
	threshold := cfg.Breaker.FailureThreshold

	w := &Writer{
		store:   store,
		queue:   make(chan record, cfg.QueueSize),
		timeout: cfg.WriteTimeout,
	}
	w.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("audit store circuit breaker state change")
		},
	})

	w.wg.Add(1)
	go w.run()
	return w
}

// LogRequest queues an authorization decision for the audit log.
func (w *Writer) LogRequest(entry *models.AuditEntry) {
	cp := *entry
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	w.enqueue(record{kind: "audit", write: func(ctx context.Context, s Store) error {
		return s.CreateAuditEntry(ctx, &cp)
	}})
}

// RecordEvent queues a new security event.
func (w *Writer) RecordEvent(event *models.SecurityEvent) {
	cp := *event
	w.enqueue(record{kind: "event", write: func(ctx context.Context, s Store) error {
		return s.CreateSecurityEvent(ctx, &cp)
	}})
}

// UpdateEvent queues a change to an already recorded event, e.g. its resolution.
func (w *Writer) UpdateEvent(event *models.SecurityEvent) {
	cp := *event
	w.enqueue(record{kind: "event_update", write: func(ctx context.Context, s Store) error {
		return s.UpdateSecurityEvent(ctx, &cp)
	}})
}

// SaveBlock queues an IP block.
func (w *Writer) SaveBlock(block *models.IPBlockEntry) {
	cp := *block
	w.enqueue(record{kind: "block", write: func(ctx context.Context, s Store) error {
		return s.SaveIPBlock(ctx, &cp)
	}})
}

// DeleteBlock queues the removal of an IP block.
func (w *Writer) DeleteBlock(ip string) {
	w.enqueue(record{kind: "unblock", write: func(ctx context.Context, s Store) error {
		return s.DeleteIPBlock(ctx, ip)
	}})
}

// Dropped is the number of records discarded because the queue was full or closed.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Written is the number of records the store accepted.
func (w *Writer) Written() int64 { return w.written.Load() }

// BreakerState reports the circuit breaker state (closed, half-open, open).
func (w *Writer) BreakerState() string { return w.cb.State().String() }

// Close stops accepting records and waits for the queue to drain.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *Writer) enqueue(r record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(r.kind, "writer closed")
		return
	}
	select {
	case w.queue <- r:
	default:
		w.drop(r.kind, "queue full")
	}
}

func (w *Writer) drop(kind, reason string) {
	w.dropped.Add(1)
	metrics.AuditDropped.Inc()
	log.Warn().Str("kind", kind).Str("reason", reason).Msg("audit record dropped")
}

func (w *Writer) run() {
	defer w.wg.Done()
	for r := range w.queue {
		w.write(r)
	}
}

func (w *Writer) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	_, err := w.cb.Execute(func() (struct{}, error) {
		return struct{}{}, r.write(ctx, w.store)
	})
	if err == nil {
		w.written.Add(1)
		return
	}
	metrics.AuditWriteFailures.WithLabelValues(r.kind).Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Debug().Str("kind", r.kind).Msg("audit store unavailable, record discarded")
		return
	}
	log.Error().Err(err).Str("kind", r.kind).Msg("audit store write failed")
}
