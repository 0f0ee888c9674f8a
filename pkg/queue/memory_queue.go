package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"callaudit/internal/util"
)

// MemoryStageQueue is the in-process default backend: a buffered channel fed
// to a fixed pool of worker goroutines. Jobs do not survive a restart.
type MemoryStageQueue struct {
	mu         sync.Mutex
	jobs       map[string]Job
	ch         chan string
	maxRetries int
	retryDelay time.Duration
}

type MemoryQueueConfig struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
}

func NewMemoryStageQueue(cfg MemoryQueueConfig) *MemoryStageQueue {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &MemoryStageQueue{
		jobs:       make(map[string]Job),
		ch:         make(chan string, buffer),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (q *MemoryStageQueue) Enqueue(ctx context.Context, callID string, stage Stage) (Job, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Job{}, errors.New("callId required")
	}
	if !stage.Valid() {
		return Job{}, fmt.Errorf("unknown stage %q", stage)
	}
	job := Job{
		ID:        util.NewID(),
		CallID:    callID,
		Stage:     stage,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.ch <- job.ID:
		return job, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return Job{}, ctx.Err()
	}
}

func (q *MemoryStageQueue) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *MemoryStageQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.workLoop(ctx, handler)
	}
}

func (q *MemoryStageQueue) workLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.ch:
			q.run(ctx, jobID, handler)
		}
	}
}

func (q *MemoryStageQueue) run(ctx context.Context, jobID string, handler Handler) {
	job, ok := q.update(jobID, func(j *Job) {
		j.Attempts++
		j.Status = StatusProcessing
	})
	if !ok {
		return
	}
	err := handler(ctx, job)
	if err == nil {
		q.update(jobID, func(j *Job) {
			j.Status = StatusDone
			j.ErrorMessage = ""
		})
		return
	}
	if job.Attempts >= q.maxRetries {
		q.update(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.ErrorMessage = err.Error()
		})
		return
	}
	q.update(jobID, func(j *Job) {
		j.Status = StatusQueued
		j.ErrorMessage = err.Error()
	})
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	select {
	case q.ch <- jobID:
	case <-ctx.Done():
	}
}

func (q *MemoryStageQueue) update(jobID string, mutate func(*Job)) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	return job, true
}
