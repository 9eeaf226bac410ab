// Package jobs runs background work on a bounded worker pool. Intake
// hands off thumbnail generation here so the association loop never
// waits on pixel decoding.
package jobs

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Job is one unit of background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to the Job interface.
type Func struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f Func) Name() string                  { return f.JobName }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Queue fans jobs out to a fixed pool of workers. Enqueue never
// blocks; when the buffer is full the job is dropped and reported,
// since every job here is recomputable from the stored file.
type Queue struct {
	jobs    chan Job
	workers int
	logger  zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue with the given worker count and buffer size.
func NewQueue(workers, buffer int, logger zerolog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = workers * 8
	}
	return &Queue{
		jobs:    make(chan Job, buffer),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. They run until the queue is shut down or
// the context is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx, i)
		}
	})
}

// Enqueue hands a job to the pool. It returns false when the buffer is
// full or the queue is shut down.
func (q *Queue) Enqueue(job Job) bool {
	defer func() {
		// Enqueue after Shutdown loses the race on the closed channel.
		recover()
	}()
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn().Str("job", job.Name()).Msg("job queue full, dropping job")
		return false
	}
}

// Shutdown stops accepting jobs, drains the buffer and waits for
// running jobs to finish.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if err := job.Run(ctx); err != nil {
				q.logger.Error().Err(err).Int("worker", id).Str("job", job.Name()).Msg("job failed")
			}
		}
	}
}
