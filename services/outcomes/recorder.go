// Package outcomes persists reported provider call outcomes asynchronously.
package outcomes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/models"
	"github.com/upb/provider-orchestrator/repositories"
)

var (
	ErrAlreadyStarted = errors.New("outcome recorder already started")
	ErrNotStarted     = errors.New("outcome recorder not started")
)

// Config holds configuration for the Recorder
type Config struct {
	QueueSize    int           // Capacity of the pending outcome queue
	Workers      int           // Number of concurrent writers
	BatchSize    int           // Maximum outcomes written per transaction
	PollInterval time.Duration // How long an idle worker waits for an outcome
	WriteTimeout time.Duration // Timeout of a single batch write
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:    10000,
		Workers:      4,
		BatchSize:    50,
		PollInterval: 100 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats represents recorder statistics
type Stats struct {
	QueueSize int   `json:"queue_size"`
	Pending   int   `json:"pending"`
	Workers   int   `json:"workers"`
	Written   int64 `json:"written"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Started   bool  `json:"started"`
}

// Recorder buffers outcomes in a bounded queue and writes them in batches.
// When the queue is full new outcomes are dropped and counted.
type Recorder struct {
	repo   repositories.OutcomeRepository
	queue  *concurrency.ConcurrentQueue[*models.ProviderOutcome]
	config Config
	logger *zap.Logger

	written *concurrency.AtomicCounter
	dropped *concurrency.AtomicCounter
	failed  *concurrency.AtomicCounter

	mu      sync.Mutex
	wg      sync.WaitGroup
	stop    chan struct{}
	started bool
	stopped bool
}

// NewRecorder creates a recorder writing through repo
func NewRecorder(repo repositories.OutcomeRepository, config Config, logger *zap.Logger) *Recorder {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &Recorder{
		repo:    repo,
		queue:   concurrency.NewConcurrentQueue[*models.ProviderOutcome](config.QueueSize),
		config:  config,
		logger:  logger,
		written: concurrency.NewAtomicCounter(0),
		dropped: concurrency.NewAtomicCounter(0),
		failed:  concurrency.NewAtomicCounter(0),
		stop:    make(chan struct{}),
	}
}

// Start launches the writer workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started outcome recorder",
		zap.Int("workers", r.config.Workers),
		zap.Int("queue_size", r.config.QueueSize))

	return nil
}

// Record queues an outcome without blocking. It returns false when the outcome
// was dropped because the recorder is not running or the queue is full.
func (r *Recorder) Record(providerID string, success bool, responseTime time.Duration) bool {
	outcome := models.NewProviderOutcome(providerID, success, responseTime)

	// Stop flips stopped under mu, so nothing is queued after the final drain
	r.mu.Lock()
	accepted := r.started && !r.stopped && r.queue.Enqueue(outcome)
	r.mu.Unlock()

	if !accepted {
		if n := r.dropped.Increment(); n == 1 || n%1000 == 0 {
			r.logger.Warn("outcome dropped",
				zap.String("provider_id", providerID),
				zap.Int64("dropped_total", n))
		}
		return false
	}
	return true
}

// Stop stops accepting outcomes and waits for the workers to flush the queue
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stop)
	r.mu.Unlock()

	r.logger.Info("stopping outcome recorder", zap.Int("pending", r.queue.Size()))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("outcome recorder stopped", zap.Int64("written", r.written.Get()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("outcome recorder stop timeout after %v", timeout)
	}
}

// Stats returns recorder statistics
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	started := r.started && !r.stopped
	r.mu.Unlock()

	return Stats{
		QueueSize: r.queue.Capacity(),
		Pending:   r.queue.Size(),
		Workers:   r.config.Workers,
		Written:   r.written.Get(),
		Dropped:   r.dropped.Get(),
		Failed:    r.failed.Get(),
		Started:   started,
	}
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			for {
				batch := r.collect(nil)
				if len(batch) == 0 {
					return
				}
				r.write(id, batch)
			}
		default:
		}

		first, ok := r.queue.DequeueBlocking(r.config.PollInterval)
		if !ok {
			continue
		}
		r.write(id, r.collect(first))
	}
}

// collect takes up to BatchSize queued outcomes without blocking
func (r *Recorder) collect(first *models.ProviderOutcome) []*models.ProviderOutcome {
	batch := make([]*models.ProviderOutcome, 0, r.config.BatchSize)
	if first != nil {
		batch = append(batch, first)
	}
	for len(batch) < r.config.BatchSize {
		o, ok := r.queue.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, o)
	}
	return batch
}

func (r *Recorder) write(workerID int, batch []*models.ProviderOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		r.logger.Error("failed to persist outcomes",
			zap.Int("worker_id", workerID),
			zap.Int("count", len(batch)),
			zap.Error(err))
		return
	}
	r.written.Add(int64(len(batch)))
}
