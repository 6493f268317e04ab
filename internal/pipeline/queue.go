package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Archiver persists finished results.
type Archiver interface {
	Save(ctx context.Context, res Result) error
}

// QueueConfig sizes a Queue.
type QueueConfig struct {
	Workers      int // Concurrent runs
	MaxQueueSize int
	RunTTL       time.Duration
}

// Queue runs submitted batches in the background and keeps their state for
// polling until the TTL expires.
type Queue struct {
	engine  *Engine
	archive Archiver
	runs    *RunStore
	queue   chan *Run
	cfg     QueueConfig
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue. archive may be nil.
func NewQueue(engine *Engine, archive Archiver, cfg QueueConfig, log *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = time.Hour
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		engine:  engine,
		archive: archive,
		runs:    NewRunStore(cfg.RunTTL),
		queue:   make(chan *Run, cfg.MaxQueueSize),
		cfg:     cfg,
		log:     log,
	}
}

// Start launches worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for range q.cfg.Workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case run, ok := <-q.queue:
					if !ok {
						return
					}
					q.process(workerCtx, run)
				}
			}
		}()
	}

	// Start run store cleanup.
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				q.runs.Cleanup()
			}
		}
	}()
}

func (q *Queue) process(ctx context.Context, run *Run) {
	res, err := q.engine.Execute(ctx, run, run.takeInputs())
	if err != nil {
		q.log.Warn("run failed", "run_id", run.ID, "error", err)
	}
	if q.archive == nil {
		return
	}
	// The archive write must outlive a cancelled run context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := q.archive.Save(saveCtx, res); err != nil {
		q.log.Error("archive write failed", "run_id", run.ID, "error", err)
		run.AddError(fmt.Sprintf("archive: %s", err))
	}
}

// Stop gracefully shuts down the queue. Queued runs that never started are
// left pending.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit queues a new run for inputs and returns it for polling.
func (q *Queue) Submit(inputs []Input) (*Run, error) {
	run := NewRun(uuid.NewString(), len(inputs))
	run.SetInputs(inputs)
	q.runs.Put(run)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		run.Fail("queue stopped")
		return run, fmt.Errorf("queue is stopped")
	}
	select {
	case q.queue <- run:
		return run, nil
	default:
		run.Fail("queue_full")
		return run, fmt.Errorf("run queue is full (%d)", q.cfg.MaxQueueSize)
	}
}

// GetRun returns a run by ID.
func (q *Queue) GetRun(id string) *Run {
	return q.runs.Get(id)
}

// QueueDepth returns current queue depth.
func (q *Queue) QueueDepth() int {
	return len(q.queue)
}
