package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitForStatus(t *testing.T, q StageQueue, jobID, want string) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _, _ := q.GetJob(context.Background(), jobID)
	t.Fatalf("job never reached %q, last seen %+v", want, job)
	return Job{}
}

func TestMemoryQueueRunsHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryStageQueue(MemoryQueueConfig{})
	var got atomic.Value
	q.Start(ctx, 2, func(_ context.Context, job Job) error {
		got.Store(job)
		return nil
	})

	job, err := q.Enqueue(ctx, "call-1", StageTranscribe)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForStatus(t, q, job.ID, StatusDone)
	if done.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", done.Attempts)
	}
	handled := got.Load().(Job)
	if handled.CallID != "call-1" || handled.Stage != StageTranscribe {
		t.Fatalf("handler saw %+v", handled)
	}
}

func TestMemoryQueueRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryStageQueue(MemoryQueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	var calls atomic.Int32
	q.Start(ctx, 1, func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("stage blew up")
	})

	job, err := q.Enqueue(ctx, "call-1", StageAnalyze)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := waitForStatus(t, q, job.ID, StatusFailed)
	if failed.ErrorMessage != "stage blew up" {
		t.Fatalf("errorMessage = %q", failed.ErrorMessage)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("handler ran %d times, want 2", n)
	}
}

func TestMemoryQueueRejectsBadInput(t *testing.T) {
	q := NewMemoryStageQueue(MemoryQueueConfig{})
	if _, err := q.Enqueue(context.Background(), "", StageTranscribe); err == nil {
		t.Fatalf("empty callId accepted")
	}
	if _, err := q.Enqueue(context.Background(), "call-1", Stage("reticulate")); err == nil {
		t.Fatalf("unknown stage accepted")
	}
}
