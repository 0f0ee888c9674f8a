package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"callaudit/internal/audio"
	"callaudit/internal/filename"
	"callaudit/internal/upload"
	"callaudit/pkg/domain"
	"callaudit/pkg/queue"
	"callaudit/pkg/storage"
	"callaudit/pkg/store"
)

// ErrAlreadyProcessing rejects a processing trigger on a record that has
// already left the pending state.
var ErrAlreadyProcessing = errors.New("call is already processing")

// ErrNotRetryable rejects a manual recovery trigger on a record that is not
// parked in error. Completed records stay completed; status never moves
// backward.
var ErrNotRetryable = errors.New("call is not in an error state")

// Transcriber turns an audio file into a normalized transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, callID string) (domain.Transcript, error)
}

// Analyzer evaluates a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript domain.Transcript) (domain.Analysis, error)
}

// Compressor is the pre-transcription size gate.
type Compressor interface {
	Process(ctx context.Context, path string) (audio.Result, error)
}

// App owns the call pipeline: upload assembly, record creation, and the
// stage state machine. Status only moves forward; stage failures park the
// record in error with a message and nothing retries automatically.
type App struct {
	store       store.Store
	queue       queue.StageQueue
	uploads     *upload.Reassembler
	gate        Compressor
	transcriber Transcriber
	analyzer    Analyzer
	archive     storage.Archive
	audioDir    string
	logger      *slog.Logger
}

type Options struct {
	Store       store.Store
	Queue       queue.StageQueue
	Uploads     *upload.Reassembler
	Gate        Compressor
	Transcriber Transcriber
	Analyzer    Analyzer
	Archive     storage.Archive // optional
	AudioDir    string
	Logger      *slog.Logger
}

func New(opts Options) (*App, error) {
	if opts.Store == nil || opts.Queue == nil || opts.Uploads == nil {
		return nil, errors.New("store, queue and uploads are required")
	}
	if opts.Gate == nil || opts.Transcriber == nil || opts.Analyzer == nil {
		return nil, errors.New("gate, transcriber and analyzer are required")
	}
	if opts.AudioDir == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(opts.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:       opts.Store,
		queue:       opts.Queue,
		uploads:     opts.Uploads,
		gate:        opts.Gate,
		transcriber: opts.Transcriber,
		analyzer:    opts.Analyzer,
		archive:     opts.Archive,
		audioDir:    opts.AudioDir,
		logger:      logger,
	}, nil
}

// Start attaches the stage worker pool to the queue.
func (a *App) Start(ctx context.Context, concurrency int) {
	a.queue.Start(ctx, concurrency, a.handleStage)
}

// UploadChunk feeds one chunk into the reassembler. It returns nil until the
// final chunk arrives; then it creates the call record, kicks off processing,
// and returns the record.
func (a *App) UploadChunk(ctx context.Context, name string, chunkIndex, totalChunks int, contentType string, chunk []byte) (*domain.CallRecord, error) {
	data, complete, err := a.uploads.Add(name, chunkIndex, totalChunks, contentType, chunk)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}
	rec, err := a.createCall(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *App) createCall(ctx context.Context, originalName string, data []byte) (domain.CallRecord, error) {
	// A name outside the recording convention rejects the whole upload
	// before any record or artifact exists.
	meta, err := filename.Parse(originalName)
	if err != nil {
		return domain.CallRecord{}, err
	}

	now := time.Now().UTC()
	rec := domain.CallRecord{
		ID:               uuid.NewString(),
		OriginalFilename: originalName,
		AgentName:        meta.AgentName,
		AgentID:          meta.AgentID,
		PhoneNumber:      meta.PhoneNumber,
		ExternalCallID:   meta.CallID,
		Timestamp:        meta.Timestamp,
		SizeBytes:        int64(len(data)),
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".wav"
	}
	rec.Filename = rec.ID + ext
	if err := os.WriteFile(a.audioPath(rec.Filename), data, 0o644); err != nil {
		return domain.CallRecord{}, fmt.Errorf("write audio artifact: %w", err)
	}
	if err := a.store.SaveCall(rec); err != nil {
		return domain.CallRecord{}, err
	}

	started, err := a.StartProcessing(ctx, rec.ID)
	if err != nil {
		// The record exists and can be retriggered manually.
		a.logger.Error("auto start failed", "call_id", rec.ID, "err", err)
		return rec, nil
	}
	return started, nil
}

// StartProcessing moves a pending record into transcribing and enqueues the
// transcription stage. Any other state is rejected.
func (a *App) StartProcessing(ctx context.Context, id string) (domain.CallRecord, error) {
	rec, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		if r.Status != domain.StatusPending {
			return ErrAlreadyProcessing
		}
		r.Status = domain.StatusTranscribing
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return domain.CallRecord{}, err
	}
	if _, err := a.queue.Enqueue(ctx, id, queue.StageTranscribe); err != nil {
		a.markError(id, fmt.Errorf("enqueue transcribe: %w", err))
		return domain.CallRecord{}, err
	}
	return rec, nil
}

// Retranscribe forces an errored record back through the whole pipeline.
// Stale transcript and analysis artifacts are replaced wholesale by the
// rerun, so only the status and refs reset here.
func (a *App) Retranscribe(ctx context.Context, id string) (domain.CallRecord, error) {
	rec, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		if r.Status == domain.StatusTranscribing || r.Status == domain.StatusAnalyzing {
			return ErrAlreadyProcessing
		}
		if r.Status != domain.StatusError {
			return ErrNotRetryable
		}
		r.Status = domain.StatusTranscribing
		r.ErrorMessage = ""
		r.OverallScore = nil
		r.AnalysisRef = ""
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return domain.CallRecord{}, err
	}
	if _, err := a.queue.Enqueue(ctx, id, queue.StageTranscribe); err != nil {
		a.markError(id, fmt.Errorf("enqueue transcribe: %w", err))
		return domain.CallRecord{}, err
	}
	return rec, nil
}

// StartAnalysis re-runs just the analysis stage for an errored record that
// already has a transcript. Manual recovery path.
func (a *App) StartAnalysis(ctx context.Context, id string) (domain.CallRecord, error) {
	if _, ok, err := a.store.GetTranscript(id); err != nil {
		return domain.CallRecord{}, err
	} else if !ok {
		return domain.CallRecord{}, fmt.Errorf("call %s has no transcript: %w", id, store.ErrNotFound)
	}
	rec, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		if r.Status == domain.StatusTranscribing || r.Status == domain.StatusAnalyzing {
			return ErrAlreadyProcessing
		}
		if r.Status != domain.StatusError {
			return ErrNotRetryable
		}
		r.Status = domain.StatusAnalyzing
		r.ErrorMessage = ""
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return domain.CallRecord{}, err
	}
	if _, err := a.queue.Enqueue(ctx, id, queue.StageAnalyze); err != nil {
		a.markError(id, fmt.Errorf("enqueue analyze: %w", err))
		return domain.CallRecord{}, err
	}
	return rec, nil
}

// DeleteCall removes the record, its artifacts, the audio file, and any
// archived copy.
func (a *App) DeleteCall(ctx context.Context, id string) error {
	rec, ok, err := a.store.GetCall(id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if err := a.store.DeleteCall(id); err != nil {
		return err
	}
	if rec.Filename != "" {
		if err := os.Remove(a.audioPath(rec.Filename)); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("remove audio artifact", "call_id", id, "err", err)
		}
	}
	if a.archive != nil {
		if err := a.archive.DeleteAudio(ctx, id); err != nil {
			a.logger.Warn("remove archived audio", "call_id", id, "err", err)
		}
	}
	return nil
}

// handleStage is the queue worker entrypoint. Pipeline failures park the
// record in error and ack the job; only storage errors propagate so the
// queue's retry budget applies to transient infrastructure trouble, not to
// deterministic stage failures.
func (a *App) handleStage(ctx context.Context, job queue.Job) error {
	logger := a.logger.With("call_id", job.CallID, "stage", job.Stage, "attempt", job.Attempts)
	switch job.Stage {
	case queue.StageTranscribe:
		return a.runTranscribe(ctx, job.CallID, logger)
	case queue.StageAnalyze:
		return a.runAnalyze(ctx, job.CallID, logger)
	default:
		logger.Warn("unknown stage, dropping job")
		return nil
	}
}

func (a *App) runTranscribe(ctx context.Context, id string, logger *slog.Logger) error {
	rec, ok, err := a.store.GetCall(id)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("call vanished before transcription")
		return nil
	}
	if rec.Status != domain.StatusTranscribing {
		logger.Warn("skipping stale transcribe job", "status", rec.Status)
		return nil
	}

	path := a.audioPath(rec.Filename)
	res, err := a.gate.Process(ctx, path)
	if err != nil {
		a.markError(id, err)
		return nil
	}
	if res.Compressed {
		if _, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
			r.SizeBytes = res.FinalSize
			r.UpdatedAt = time.Now().UTC()
			return nil
		}); err != nil {
			return err
		}
		logger.Info("audio compressed", "original_bytes", res.OriginalSize, "final_bytes", res.FinalSize)
	}

	transcript, err := a.transcriber.Transcribe(ctx, path, id)
	if err != nil {
		a.markError(id, err)
		return nil
	}
	transcript.CreatedAt = time.Now().UTC()
	if err := a.store.SaveTranscript(transcript); err != nil {
		return err
	}
	if _, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		r.Status = domain.StatusAnalyzing
		r.TranscriptRef = "transcripts/" + id + ".json"
		r.DurationSeconds = transcript.DurationSeconds
		r.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		return err
	}

	if a.archive != nil {
		if err := a.archive.PutAudio(ctx, id, path, "audio/wav"); err != nil {
			logger.Warn("archive upload failed", "err", err)
		}
	}

	// Hand-off to analysis is asynchronous; nothing waits on it here.
	if _, err := a.queue.Enqueue(ctx, id, queue.StageAnalyze); err != nil {
		a.markError(id, fmt.Errorf("enqueue analyze: %w", err))
	}
	return nil
}

func (a *App) runAnalyze(ctx context.Context, id string, logger *slog.Logger) error {
	rec, ok, err := a.store.GetCall(id)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("call vanished before analysis")
		return nil
	}
	if rec.Status != domain.StatusAnalyzing {
		logger.Warn("skipping stale analyze job", "status", rec.Status)
		return nil
	}
	transcript, ok, err := a.store.GetTranscript(id)
	if err != nil {
		return err
	}
	if !ok {
		a.markError(id, errors.New("transcript missing"))
		return nil
	}

	analysis, err := a.analyzer.Analyze(ctx, transcript)
	if err != nil {
		a.markError(id, err)
		return nil
	}
	if err := a.store.SaveAnalysis(analysis); err != nil {
		return err
	}
	if _, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		r.Status = domain.StatusComplete
		r.AnalysisRef = "analyses/" + id + ".json"
		score := analysis.OverallScore
		r.OverallScore = &score
		r.ErrorMessage = ""
		r.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		return err
	}
	logger.Info("call analyzed", "overall_score", analysis.OverallScore, "key_moments", len(analysis.KeyMoments))
	return nil
}

func (a *App) markError(id string, cause error) {
	if _, err := a.store.UpdateCall(id, func(r *domain.CallRecord) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = domain.StatusError
		r.ErrorMessage = cause.Error()
		r.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		a.logger.Error("record error state write failed", "call_id", id, "err", err)
	}
	a.logger.Error("stage failed", "call_id", id, "err", cause)
}

func (a *App) audioPath(name string) string {
	return filepath.Join(a.audioDir, name)
}
