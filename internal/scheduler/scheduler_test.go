package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tokenmill/internal/jobs"
	"tokenmill/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubEngine lets tests control the handshake outcome per email.
type stubEngine struct {
	mu   sync.Mutex
	runs []string
	fn   func(email string, progress func(string)) (string, error)
}

func (e *stubEngine) Run(ctx context.Context, email string, progress func(string)) (string, error) {
	e.mu.Lock()
	e.runs = append(e.runs, email)
	e.mu.Unlock()
	return e.fn(email, progress)
}

func (e *stubEngine) ranFor() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.runs))
	copy(out, e.runs)
	return out
}

func waitForTerminal(t *testing.T, st *store.Store, id string) store.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := st.Get(id); ok && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := st.Get(id)
	t.Fatalf("job %s never reached a terminal state, stuck at %q", id, job.Status)
	return store.Job{}
}

func TestSubmitRequiresEmail(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "jobs.json"), testLogger())
	sched := New(st, &stubEngine{fn: func(string, func(string)) (string, error) {
		return "tok", nil
	}}, testLogger())

	if _, err := sched.Submit(""); !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}
	if n := len(st.Jobs()); n != 0 {
		t.Fatalf("expected no job created on rejected submission, got %d", n)
	}
}

func TestSubmitRunsToDone(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "jobs.json"), testLogger())
	engine := &stubEngine{fn: func(email string, progress func(string)) (string, error) {
		progress("Sending login request...")
		progress("Authentication successful!")
		return "tok_xyz", nil
	}}
	sched := New(st, engine, testLogger())

	id, err := sched.Submit("a@example.com")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	job := waitForTerminal(t, st, id)
	if job.Status != jobs.StatusDone {
		t.Fatalf("expected done, got %q (%s)", job.Status, job.Message)
	}
	if job.Token != "tok_xyz" {
		t.Fatalf("expected token, got %q", job.Token)
	}
	if job.Message != "Token generated" {
		t.Fatalf("expected completion message, got %q", job.Message)
	}
}

func TestSubmitCapturesFailure(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "jobs.json"), testLogger())
	engine := &stubEngine{fn: func(email string, progress func(string)) (string, error) {
		progress("Token generation failed: remote said no")
		return "", errors.New("remote said no")
	}}
	sched := New(st, engine, testLogger())

	id, err := sched.Submit("a@example.com")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	job := waitForTerminal(t, st, id)
	if job.Status != jobs.StatusError {
		t.Fatalf("expected error, got %q", job.Status)
	}
	if job.Message != "remote said no" {
		t.Fatalf("expected failure message, got %q", job.Message)
	}
	if job.Token != "" {
		t.Fatalf("expected no token on failed job, got %q", job.Token)
	}
}

func TestProgressMovesJobToRunning(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "jobs.json"), testLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	engine := &stubEngine{fn: func(email string, progress func(string)) (string, error) {
		progress("Waiting for magic link click...")
		close(started)
		<-release
		return "tok", nil
	}}
	sched := New(st, engine, testLogger())

	id, err := sched.Submit("a@example.com")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	<-started
	job, _ := st.Get(id)
	if job.Status != jobs.StatusRunning {
		t.Fatalf("expected running after first progress event, got %q", job.Status)
	}

	close(release)
	waitForTerminal(t, st, id)
}

func TestResumeRelaunchesInterruptedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	st := store.Open(path, testLogger())

	interrupted := st.Create("resume@example.com")
	st.ApplyProgress(interrupted.ID, "Waiting for magic link click...")

	finished := st.Create("finished@example.com")
	st.Complete(finished.ID, "tok_old")

	failed := st.Create("failed@example.com")
	st.Fail(failed.ID, "Token generation failed: old failure")

	// Simulate a restart: reload the snapshot into a fresh store.
	reopened := store.Open(path, testLogger())
	engine := &stubEngine{fn: func(email string, progress func(string)) (string, error) {
		return "tok_new", nil
	}}
	sched := New(reopened, engine, testLogger())

	if resumed := sched.Resume(); resumed != 1 {
		t.Fatalf("expected 1 resumed job, got %d", resumed)
	}

	job := waitForTerminal(t, reopened, interrupted.ID)
	if job.Status != jobs.StatusDone || job.Token != "tok_new" {
		t.Fatalf("expected interrupted job to finish, got %+v", job)
	}

	ran := engine.ranFor()
	if len(ran) != 1 || ran[0] != "resume@example.com" {
		t.Fatalf("expected engine run only for interrupted job, got %v", ran)
	}

	// Terminal jobs must be untouched.
	got, _ := reopened.Get(finished.ID)
	if got.Token != "tok_old" || got.Status != jobs.StatusDone {
		t.Fatalf("expected finished job untouched, got %+v", got)
	}
	got, _ = reopened.Get(failed.ID)
	if got.Status != jobs.StatusError || got.Message != "Token generation failed: old failure" {
		t.Fatalf("expected failed job untouched, got %+v", got)
	}
}

func TestResumeFailsJobsWithoutEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	st := store.Open(path, testLogger())

	orphan := st.Create("")
	st.ApplyProgress(orphan.ID, "Waiting for magic link click...")

	reopened := store.Open(path, testLogger())
	engine := &stubEngine{fn: func(email string, progress func(string)) (string, error) {
		t.Errorf("engine must not run for a job without an email")
		return "", nil
	}}
	sched := New(reopened, engine, testLogger())

	if resumed := sched.Resume(); resumed != 0 {
		t.Fatalf("expected no resumed jobs, got %d", resumed)
	}

	got, _ := reopened.Get(orphan.ID)
	if got.Status != jobs.StatusError {
		t.Fatalf("expected orphan job marked error at startup, got %q", got.Status)
	}
}
