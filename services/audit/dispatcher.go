package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/security-audit/internal/reqctx"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/services"
	"github.com/upb/security-audit/services/securityevent"
)

// job is one queued submission together with the caller's context values
type job struct {
	ctx context.Context
	sub *models.SecurityEventSubmission
}

// Dispatcher runs security event submissions on a bounded worker pool so
// callers never wait on the hash chain or the database. Strict submissions
// bypass the queue and run on the caller's goroutine.
type Dispatcher struct {
	emitter     securityevent.Emitter
	logger      *zap.Logger
	queue       chan job
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	started     bool
	stopped     bool
	processed   atomic.Uint64
	dropped     atomic.Uint64
}

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int // Size of the submission queue
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 4,
	}
}

// NewDispatcher creates a Dispatcher in front of emitter
func NewDispatcher(emitter securityevent.Emitter, logger *zap.Logger, config Config) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	return &Dispatcher{
		emitter:     emitter,
		logger:      logger,
		queue:       make(chan job, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("security event dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started security event dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))
	return nil
}

// Stop stops accepting submissions and waits for queued ones to drain
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("security event dispatcher not running")
	}
	d.stopped = true
	pending := len(d.queue)
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("stopping security event dispatcher", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("security event dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("security event dispatcher stop timeout after %v", timeout)
	}
}

// Emit implements securityevent.Emitter. Queueing failures of non-strict
// submissions are logged, not returned.
func (d *Dispatcher) Emit(ctx context.Context, sub *models.SecurityEventSubmission) error {
	if sub != nil && sub.ThrowOnError {
		return d.emitter.Emit(ctx, sub)
	}
	if err := d.Enqueue(ctx, sub); err != nil {
		eventType := ""
		if sub != nil {
			eventType = sub.EventType
		}
		d.logger.Error("security event dropped",
			zap.String("event_type", eventType),
			zap.String("stage", "dispatch"),
			zap.Error(err))
	}
	return nil
}

// Enqueue queues sub without blocking. It fails with services.ErrQueueFull
// or services.ErrNotRunning.
func (d *Dispatcher) Enqueue(ctx context.Context, sub *models.SecurityEventSubmission) error {
	j := job{ctx: context.WithoutCancel(ctx), sub: detach(sub)}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		d.dropped.Add(1)
		return services.ErrNotRunning
	}

	select {
	case d.queue <- j:
		return nil
	default:
		d.dropped.Add(1)
		return services.ErrQueueFull
	}
}

// detach captures request metadata up front; the request itself may be
// gone by the time a worker picks the submission up.
func detach(sub *models.SecurityEventSubmission) *models.SecurityEventSubmission {
	if sub == nil || sub.Request == nil {
		return sub
	}
	out := *sub
	rc := reqctx.FromHTTP(sub.Request)
	if sub.RequestContext != nil {
		rc = sub.RequestContext.Merge(rc)
	}
	out.RequestContext = &rc
	out.Request = nil
	return &out
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("security event worker started", zap.Int("worker_id", id))

	for j := range d.queue {
		if err := d.emitter.Emit(j.ctx, j.sub); err != nil {
			d.logger.Error("failed to process security event",
				zap.Int("worker_id", id),
				zap.Error(err))
		}
		d.processed.Add(1)
	}

	d.logger.Debug("security event worker stopped", zap.Int("worker_id", id))
}

// Stats represents dispatcher statistics
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	WorkerCount   int    `json:"worker_count"`
	Started       bool   `json:"started"`
	Processed     uint64 `json:"processed"`
	Dropped       uint64 `json:"dropped"`
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		BufferSize:    d.bufferSize,
		PendingEvents: len(d.queue),
		WorkerCount:   d.workerCount,
		Started:       d.started && !d.stopped,
		Processed:     d.processed.Load(),
		Dropped:       d.dropped.Load(),
	}
}
