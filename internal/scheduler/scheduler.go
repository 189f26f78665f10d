package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tokenmill/internal/jobs"
	"tokenmill/internal/metrics"
	"tokenmill/internal/store"
)

// ErrMissingEmail is returned by Submit when no email is provided.
var ErrMissingEmail = errors.New("email is required")

// Engine runs one complete login handshake for an email, reporting
// progress along the way. Satisfied by charai.Handshake; tests stub it.
type Engine interface {
	Run(ctx context.Context, email string, progress func(string)) (string, error)
}

// Task tracks one in-flight handshake. Cancellation is not exposed
// through the API today, but the handle keeps the cancel func so a
// future endpoint can stop a job without redesigning the scheduler.
type Task struct {
	JobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the task's handshake has finished and its final
// state has been written to the store.
func (t *Task) Done() <-chan struct{} { return t.done }

// Scheduler launches one Engine run per accepted job and wires the
// engine's progress events into store mutations. Jobs share no state
// with each other except through the store.
type Scheduler struct {
	store  *store.Store
	engine Engine
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

func New(st *store.Store, engine Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  st,
		engine: engine,
		logger: logger,
		tasks:  make(map[string]*Task),
	}
}

// Submit creates a job for the email and launches its handshake,
// returning the job ID without waiting for the flow to finish.
func (s *Scheduler) Submit(email string) (string, error) {
	if email == "" {
		return "", ErrMissingEmail
	}

	job := s.store.Create(email)
	s.launch(job.ID, email)
	return job.ID, nil
}

// Resume relaunches every stored job that was interrupted mid-flight.
// No intermediate handshake state is persisted, so an interrupted job
// restarts its flow from scratch. Non-terminal jobs without an email
// cannot be resumed and are failed outright rather than left stalled.
// Returns the number of jobs relaunched.
func (s *Scheduler) Resume() int {
	resumed := 0
	for _, job := range s.store.Jobs() {
		if job.Status.Terminal() {
			continue
		}
		if job.Email == "" {
			s.logger.Warn("job has no email, cannot resume", "job_id", job.ID)
			s.store.Fail(job.ID, "Token generation failed: job has no email to resume with")
			metrics.RecordJob(string(jobs.StatusError))
			continue
		}

		s.logger.Info("resuming job", "job_id", job.ID, "email", job.Email)
		s.launch(job.ID, job.Email)
		resumed++
	}

	metrics.RecordJobsResumed(int64(resumed))
	return resumed
}

// Task returns the tracked handle for an in-flight job, if any.
func (s *Scheduler) Task(jobID string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[jobID]
	return t, ok
}

// launch starts the handshake goroutine for a job and registers its
// task handle.
func (s *Scheduler) launch(jobID, email string) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		JobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[jobID] = task
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.tasks, jobID)
			s.mu.Unlock()
			cancel()
			close(task.done)
		}()

		progress := func(message string) {
			s.logger.Info("job progress", "job_id", jobID, "message", message)
			s.store.ApplyProgress(jobID, message)
		}

		token, err := s.engine.Run(ctx, email, progress)
		if err != nil {
			message := err.Error()
			if message == "" {
				message = "Generation failed"
			}
			s.store.Fail(jobID, message)
			metrics.RecordJob(string(jobs.StatusError))
			s.logger.Warn("job failed", "job_id", jobID, "error", err)
			return
		}

		s.store.Complete(jobID, token)
		metrics.RecordJob(string(jobs.StatusDone))
		s.logger.Info("job completed", "job_id", jobID)
	}()
}
