package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrClosed      = errors.New("command queue is closed")
	ErrLaneCleared = errors.New("lane cleared")
)

// Task is one unit of lane work
type Task func(ctx context.Context) (any, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
	// panicked holds a value recovered from the task; Enqueue re-panics with it.
	panicked any
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization
type CommandQueue struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	lanes  map[string]*laneState
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty queue
func New(logger zerolog.Logger) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		logger: logger.With().Str("component", "commandqueue").Logger(),
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (cq *CommandQueue) lane(name string) (*laneState, error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.closed {
		return nil, ErrClosed
	}
	ls, ok := cq.lanes[name]
	if !ok {
		ls = &laneState{concurrency: 1}
		cq.lanes[name] = ls
		cq.logger.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls, nil
}

// Enqueue adds task to lane and blocks until it has run. If ctx ends while the
// task is still queued, Enqueue returns ctx.Err() and the task is dropped.
// A task that panics makes Enqueue panic with the same value on the caller's
// goroutine.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	ls, err := cq.lane(lane)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	record := &taskRecord{
		id:         uuid.NewString(),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	observability.SetQueueSize(lane, queueSize)
	logger := tracing.LoggerFromContext(ctx, cq.logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	go cq.processLane(lane, ls)

	var result taskResult
	select {
	case result = <-record.result:
	case <-ctx.Done():
		if cq.remove(ls, record) {
			tracing.RecordError(span, ctx.Err())
			return nil, ctx.Err()
		}
		// already running; its result is still delivered
		result = <-record.result
	}
	if result.panicked != nil {
		panic(result.panicked)
	}
	tracing.RecordError(span, result.err)
	return result.value, result.err
}

func (cq *CommandQueue) remove(ls *laneState, record *taskRecord) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// Close may already be waiting on wg; tasks queued after it swept the
	// lanes are rejected here instead of started.
	if cq.closed {
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrClosed}
		}
		ls.queue = nil
		return
	}

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
	observability.SetQueueSize(lane, len(ls.queue))
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, cq.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	result := runTask(runCtx, record.task)
	duration := time.Since(startTime)
	err := result.err

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- result

	if result.panicked != nil {
		err = fmt.Errorf("task panicked: %v", result.panicked)
		tracing.RecordError(span, err)
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Interface("panic", result.panicked).
			Msg("Task panicked")
	} else if err != nil {
		tracing.RecordError(span, err)
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("wait", startTime.Sub(record.enqueuedAt)).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordTaskCompletion(duration, err == nil)

	go cq.processLane(lane, ls)
}

func runTask(ctx context.Context, task Task) (result taskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = taskResult{panicked: rec}
		}
	}()
	value, err := task(ctx)
	return taskResult{value: value, err: err}
}

// QueueSize returns the number of queued, not yet running, tasks for a lane
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.RLock()
	ls, ok := cq.lanes[lane]
	cq.mu.RUnlock()
	if !ok {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// SetConcurrency updates the concurrency limit for a lane
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	ls, err := cq.lane(lane)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	ls.concurrency = concurrency
	ls.mu.Unlock()

	go cq.processLane(lane, ls)
	return nil
}

// ClearLane rejects every queued task of a lane and forgets the lane once idle.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	ls, ok := cq.lanes[lane]
	if !ok {
		cq.mu.Unlock()
		return 0
	}

	ls.mu.Lock()
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil
	if ls.running == 0 {
		delete(cq.lanes, lane)
	}
	ls.mu.Unlock()
	cq.mu.Unlock()

	observability.SetQueueSize(lane, 0)
	cq.logger.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// Close rejects queued tasks, cancels running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for name, ls := range cq.lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrClosed}
		}
		ls.queue = nil
		ls.mu.Unlock()
		observability.SetQueueSize(name, 0)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
