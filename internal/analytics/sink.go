// internal/analytics/sink.go
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Sink accepts analytics records without blocking the message pipeline. A
// single worker drains the queue into the store and, when configured, the
// search index. Records are dropped, not queued unboundedly, when the
// worker falls behind.
type Sink struct {
	queue   chan *Record
	store   Store
	indexer *Indexer
	logger  Logger

	dropped atomic.Int64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewSink(store Store, indexer *Indexer, queueSize int, logger Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &Sink{
		queue:   make(chan *Record, queueSize),
		store:   store,
		indexer: indexer,
		logger:  logger,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue hands a record to the sink. It never blocks: when the queue is
// full the record is counted as dropped and the message flow continues.
func (s *Sink) Enqueue(record *Record) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	// The read lock excludes Close, so the send can never hit a closed
	// channel.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- record:
	default:
		n := s.dropped.Add(1)
		if n%100 == 1 {
			s.logger.Warn("Analytics queue full, dropping records", map[string]interface{}{
				"dropped_total": n,
			})
		}
	}
}

// Dropped reports how many records were lost to backpressure.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops intake and drains the queue, bounded by the context.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for record := range s.queue {
		s.write(record)
	}
}

func (s *Sink) write(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.Insert(ctx, record); err != nil {
		s.logger.Error("Analytics record write failed", map[string]interface{}{
			"record_id": record.ID,
			"tenant_id": record.TenantID,
			"error":     err.Error(),
		})
	}

	if s.indexer != nil {
		if err := s.indexer.Index(ctx, record); err != nil {
			s.logger.Warn("Analytics record indexing failed", map[string]interface{}{
				"record_id": record.ID,
				"error":     err.Error(),
			})
		}
	}
}
