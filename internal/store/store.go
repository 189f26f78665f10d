package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tokenmill/internal/jobs"
)

// Job is the persisted record for a single token acquisition.
type Job struct {
	ID      string      `json:"id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
	Token   string      `json:"token"`
	Email   string      `json:"email"`
}

// Store is a file-backed map of job ID to Job. Every mutation rewrites
// the whole snapshot file, so a crash loses at most the last in-memory
// update and never corrupts older records. A single mutex guards the
// map; the service is a single-process deployment.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// Open loads the snapshot at path into a new Store. A missing file is
// an empty store; a corrupt file is logged and treated as empty.
func Open(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger,
		jobs:   make(map[string]*Job),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read jobs snapshot", "path", path, "error", err)
		}
		return s
	}

	var loaded map[string]*Job
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warn("jobs snapshot is corrupt, starting empty", "path", path, "error", err)
		return s
	}

	for id, job := range loaded {
		if job == nil {
			continue
		}
		if job.ID == "" {
			job.ID = id
		}
		s.jobs[id] = job
	}
	return s
}

// Create allocates a fresh job in status pending and persists it.
func (s *Store) Create(email string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:      uuid.NewString(),
		Status:  jobs.StatusPending,
		Message: "Queued",
		Email:   email,
	}
	s.jobs[job.ID] = job
	s.persistLocked()
	return *job
}

// Get returns a copy of the job with the given ID.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ApplyProgress records a progress message and re-derives the job's
// status from it: done once a token is held, error when the message
// signals a failure, running otherwise.
func (s *Store) ApplyProgress(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}

	job.Message = message
	switch {
	case job.Token != "":
		job.Status = jobs.StatusDone
	case strings.Contains(strings.ToLower(message), "failed"):
		job.Status = jobs.StatusError
	default:
		job.Status = jobs.StatusRunning
	}
	s.persistLocked()
}

// Complete marks the job done with its acquired token.
func (s *Store) Complete(id, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}

	job.Token = token
	job.Status = jobs.StatusDone
	job.Message = "Token generated"
	s.persistLocked()
}

// Fail marks the job as a terminal error with the given message.
func (s *Store) Fail(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}

	job.Status = jobs.StatusError
	job.Message = message
	s.persistLocked()
}

// Jobs returns a copy of every known job, ordered by ID for stable
// iteration. Used for startup reconciliation.
func (s *Store) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persistLocked rewrites the whole snapshot. Write failures are logged
// and the in-memory mutation stands; durability here is best-effort.
// Callers must hold s.mu.
func (s *Store) persistLocked() {
	raw, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		s.logger.Warn("failed to encode jobs snapshot", "error", err)
		return
	}

	// Write to a temp file in the same directory and rename so readers
	// never observe a partially written snapshot.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".jobs-*.json")
	if err != nil {
		s.logger.Warn("failed to persist jobs snapshot", "path", s.path, "error", err)
		return
	}

	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		s.logger.Warn("failed to persist jobs snapshot", "path", s.path, "write_error", werr, "close_error", cerr)
		return
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		s.logger.Warn("failed to persist jobs snapshot", "path", s.path, "error", err)
	}
}
