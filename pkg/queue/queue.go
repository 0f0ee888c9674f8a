package queue

import (
	"context"
	"time"
)

// Stage names a pipeline step a job asks a worker to run.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageAnalyze    Stage = "analyze"
)

// Valid reports whether the stage is one a worker knows how to run.
func (s Stage) Valid() bool {
	return s == StageTranscribe || s == StageAnalyze
}

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one stage execution request for one call.
type Job struct {
	ID           string    `json:"id"`
	CallID       string    `json:"callId"`
	Stage        Stage     `json:"stage"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler runs one stage for one call. A nil return acks the job; an error
// requeues it until the backend's retry budget runs out.
type Handler func(ctx context.Context, job Job) error

// StageQueue dispatches stage jobs to workers. Start is non-blocking: it
// spawns consumers that stop when ctx is canceled.
type StageQueue interface {
	Enqueue(ctx context.Context, callID string, stage Stage) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, bool, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}
