// Package scheduler runs one-off and recurring jobs on a fixed worker pool,
// ordered by a min-heap of due times.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/metrics"
)

// Job is the work a task runs
type Job func(ctx context.Context) error

// Task is a job scheduled for a point in time
type Task struct {
	ID    string
	DueAt time.Time
	Job   Job
	// Interval reschedules the task after each run when positive
	Interval time.Duration
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil  // avoid memory leak
	task.index = -1 // for safety
	*h = old[0 : n-1]
	return task
}

// Scheduler dispatches due tasks to a pool of workers
type Scheduler struct {
	heap   taskHeap
	mu     sync.Mutex
	wakeup chan struct{}
	tasks  map[string]*Task // for O(1) lookup by ID
	// recurring holds the live instance of each recurring task, scheduled or running
	recurring map[string]*Task
	queue     chan *Task
	workers   int
	workerWg  sync.WaitGroup
	loopWg    sync.WaitGroup
	stopped   bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

// New creates a scheduler with a worker pool
func New(workers int, logger zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:      make(taskHeap, 0),
		wakeup:    make(chan struct{}, 1),
		tasks:     make(map[string]*Task),
		recurring: make(map[string]*Task),
		queue:     make(chan *Task, workers),
		workers:   workers,
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the dispatch loop and its worker pool
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}

	s.loopWg.Add(1)
	go s.run()
}

// Stop cancels running jobs, drops pending tasks and waits for workers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.loopWg.Wait()
	close(s.queue)
	s.workerWg.Wait()
}

// Schedule runs job once at dueAt. A task with the same id is replaced.
func (s *Scheduler) Schedule(id string, dueAt time.Time, job Job) error {
	return s.add(&Task{ID: id, DueAt: dueAt, Job: job})
}

// Every runs job every interval, first after one interval has passed
func (s *Scheduler) Every(id string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.add(&Task{ID: id, DueAt: time.Now().Add(interval), Job: job, Interval: interval})
}

// Now runs a recurring job immediately and then every interval
func (s *Scheduler) Now(id string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.add(&Task{ID: id, DueAt: time.Now(), Job: job, Interval: interval})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	// Remove existing task with same ID if present
	if existing, ok := s.tasks[task.ID]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, task.ID)
	}

	if task.Interval > 0 {
		s.recurring[task.ID] = task
	} else {
		delete(s.recurring, task.ID)
	}

	s.push(task)
	return nil
}

// push adds a task to the heap; callers hold mu
func (s *Scheduler) push(task *Task) {
	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task
	metrics.ScheduledTasks.Set(float64(len(s.tasks)))

	// Wake up the loop if this is the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel removes a scheduled task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, running := s.recurring[id]
	delete(s.recurring, id)

	task, ok := s.tasks[id]
	if !ok {
		return running
	}

	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	metrics.ScheduledTasks.Set(float64(len(s.tasks)))
	return true
}

// run is the main dispatch loop
func (s *Scheduler) run() {
	defer s.loopWg.Done()

	for {
		s.mu.Lock()

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			// No tasks, wait until woken
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.DueAt)

			if waitDuration <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				metrics.ScheduledTasks.Set(float64(len(s.tasks)))
				s.mu.Unlock()

				select {
				case s.queue <- task:
				case <-s.stopCh:
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// worker runs dispatched tasks until the queue closes
func (s *Scheduler) worker() {
	defer s.workerWg.Done()

	for task := range s.queue {
		s.execute(task)
	}
}

func (s *Scheduler) execute(task *Task) {
	start := time.Now()
	err := s.safeRun(task)
	metrics.JobDuration.WithLabelValues(task.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobRuns.WithLabelValues(task.ID, "error").Inc()
		s.logger.Error().Err(err).Str("job", task.ID).Msg("job failed")
	} else {
		metrics.JobRuns.WithLabelValues(task.ID, "ok").Inc()
		s.logger.Debug().Str("job", task.ID).Dur("took", time.Since(start)).Msg("job completed")
	}

	if task.Interval > 0 {
		s.requeue(task, start.Add(task.Interval))
	}
}

// requeue puts a recurring task back unless it was cancelled or replaced while
// it ran
func (s *Scheduler) requeue(task *Task, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.recurring[task.ID] != task {
		return
	}
	if now := time.Now(); dueAt.Before(now) {
		dueAt = now
	}
	task.DueAt = dueAt
	s.push(task)
}

func (s *Scheduler) safeRun(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SchedulerError{"job panicked"}
			s.logger.Error().Interface("panic", r).Str("job", task.ID).Msg("recovered job panic")
		}
	}()
	return task.Job(s.ctx)
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		Workers:        s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	Workers        int
}

var (
	ErrStopped         = &SchedulerError{"scheduler is stopped"}
	ErrInvalidInterval = &SchedulerError{"interval must be positive"}
)

// SchedulerError represents a scheduler error
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string {
	return e.msg
}
