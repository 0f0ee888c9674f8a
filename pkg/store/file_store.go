package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"callaudit/pkg/domain"
)

const (
	callsFile      = "calls.json"
	transcriptsDir = "transcripts"
	analysesDir    = "analyses"
	uploadsDir     = "uploads"
)

// FileStore keeps the whole collection in flat JSON files under a base
// directory: calls.json holds the record array, transcripts/{id}.json and
// analyses/{id}.json hold per-call artifacts. Every mutation rewrites the
// affected file atomically (temp file + rename).
//
// All collection writes serialize through one mutex, so a writer always sees
// the previous writer's result before its own read-modify-write cycle. This
// holds within one process only.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
	logger  *slog.Logger
}

// NewFileStore creates the data directories if missing.
func NewFileStore(baseDir string, logger *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{baseDir,
		filepath.Join(baseDir, transcriptsDir),
		filepath.Join(baseDir, analysesDir),
		filepath.Join(baseDir, uploadsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &FileStore{baseDir: baseDir, logger: logger}, nil
}

// UploadsDir is where finalized audio artifacts belong, so stats can account
// for them alongside the JSON artifacts.
func (s *FileStore) UploadsDir() string {
	return filepath.Join(s.baseDir, uploadsDir)
}

// SaveCall upserts by id: an existing record is overwritten in place rather
// than appended as a duplicate.
func (s *FileStore) SaveCall(rec domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, err := s.readCallsLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range calls {
		if calls[i].ID == rec.ID {
			calls[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		calls = append(calls, rec)
	}
	return s.writeCallsLocked(calls)
}

// GetCall returns (zero, false, nil) for a missing id.
func (s *FileStore) GetCall(id string) (domain.CallRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, err := s.readCallsLocked()
	if err != nil {
		return domain.CallRecord{}, false, err
	}
	for _, rec := range calls {
		if rec.ID == id {
			return enrich(rec, s.getAnalysisLocked), true, nil
		}
	}
	return domain.CallRecord{}, false, nil
}

// ListCalls returns the deduplicated, enriched collection.
func (s *FileStore) ListCalls() ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, err := s.readCallsLocked()
	if err != nil {
		return nil, err
	}
	out := make([]domain.CallRecord, 0, len(calls))
	for _, rec := range calls {
		out = append(out, enrich(rec, s.getAnalysisLocked))
	}
	return out, nil
}

// UpdateCall applies mutate inside the write lock, so concurrent updates
// never clobber each other's changes.
func (s *FileStore) UpdateCall(id string, mutate func(*domain.CallRecord) error) (domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, err := s.readCallsLocked()
	if err != nil {
		return domain.CallRecord{}, err
	}
	for i := range calls {
		if calls[i].ID != id {
			continue
		}
		if err := mutate(&calls[i]); err != nil {
			return domain.CallRecord{}, err
		}
		calls[i].ID = id // the id is immutable
		if err := s.writeCallsLocked(calls); err != nil {
			return domain.CallRecord{}, err
		}
		return calls[i], nil
	}
	return domain.CallRecord{}, ErrNotFound
}

// DeleteCall removes the record and its transcript/analysis artifacts.
func (s *FileStore) DeleteCall(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, err := s.readCallsLocked()
	if err != nil {
		return err
	}
	kept := calls[:0]
	found := false
	for _, rec := range calls {
		if rec.ID == id {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return ErrNotFound
	}
	if err := s.writeCallsLocked(kept); err != nil {
		return err
	}
	// Artifact removal is best-effort once the record is gone.
	if err := os.Remove(s.transcriptPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove transcript artifact", "call_id", id, "err", err)
	}
	if err := os.Remove(s.analysisPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove analysis artifact", "call_id", id, "err", err)
	}
	return nil
}

// SaveTranscript writes the whole transcript in one atomic replacement;
// re-transcription replaces the artifact rather than mutating it.
func (s *FileStore) SaveTranscript(t domain.Transcript) error {
	if t.CallID == "" {
		return fmt.Errorf("transcript requires a call id")
	}
	return writeJSONFile(s.transcriptPath(t.CallID), t)
}

func (s *FileStore) GetTranscript(callID string) (domain.Transcript, bool, error) {
	var t domain.Transcript
	ok, err := readJSONFile(s.transcriptPath(callID), &t)
	return t, ok, err
}

func (s *FileStore) SaveAnalysis(a domain.Analysis) error {
	if a.CallID == "" {
		return fmt.Errorf("analysis requires a call id")
	}
	return writeJSONFile(s.analysisPath(a.CallID), a)
}

func (s *FileStore) GetAnalysis(callID string) (domain.Analysis, bool, error) {
	var a domain.Analysis
	ok, err := readJSONFile(s.analysisPath(callID), &a)
	return a, ok, err
}

// Stats walks the collection plus the artifact directories.
func (s *FileStore) Stats() (Stats, error) {
	s.mu.Lock()
	calls, err := s.readCallsLocked()
	s.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalCalls: len(calls),
		ByStatus:   make(map[domain.CallStatus]int),
	}
	for _, rec := range calls {
		stats.ByStatus[rec.Status]++
	}

	var g errgroup.Group
	g.Go(func() error {
		n, err := dirBytes(s.UploadsDir())
		stats.AudioBytes = n
		return err
	})
	g.Go(func() error {
		n, err := dirBytes(filepath.Join(s.baseDir, transcriptsDir))
		stats.TranscriptBytes = n
		return err
	})
	g.Go(func() error {
		n, err := dirBytes(filepath.Join(s.baseDir, analysesDir))
		stats.AnalysisBytes = n
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	stats.TotalBytes = stats.AudioBytes + stats.TranscriptBytes + stats.AnalysisBytes
	return stats, nil
}

// readCallsLocked loads the collection, collapsing duplicate ids to their
// first occurrence. When duplicates are found the deduplicated set is
// written straight back, healing the file on read.
func (s *FileStore) readCallsLocked() ([]domain.CallRecord, error) {
	path := filepath.Join(s.baseDir, callsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read call collection: %w", err)
	}
	var calls []domain.CallRecord
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, fmt.Errorf("parse call collection: %w", err)
	}

	seen := make(map[string]bool, len(calls))
	deduped := calls[:0]
	for _, rec := range calls {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		deduped = append(deduped, rec)
	}
	if len(deduped) < len(calls) {
		s.logger.Warn("healed duplicate call records", "removed", len(calls)-len(deduped))
		if err := s.writeCallsLocked(deduped); err != nil {
			return nil, err
		}
	}
	return deduped, nil
}

func (s *FileStore) writeCallsLocked(calls []domain.CallRecord) error {
	if calls == nil {
		calls = []domain.CallRecord{}
	}
	if err := writeJSONFile(filepath.Join(s.baseDir, callsFile), calls); err != nil {
		return fmt.Errorf("write call collection: %w", err)
	}
	return nil
}

// getAnalysisLocked exists so enrichment inside the lock does not re-enter
// the public GetAnalysis (which takes no lock, but keeps the call sites
// uniform if it ever does).
func (s *FileStore) getAnalysisLocked(callID string) (domain.Analysis, bool, error) {
	var a domain.Analysis
	ok, err := readJSONFile(s.analysisPath(callID), &a)
	return a, ok, err
}

func (s *FileStore) transcriptPath(callID string) string {
	return filepath.Join(s.baseDir, transcriptsDir, callID+".json")
}

func (s *FileStore) analysisPath(callID string) string {
	return filepath.Join(s.baseDir, analysesDir, callID+".json")
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func dirBytes(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
