package store

import (
	"errors"

	"callaudit/pkg/domain"
)

// ErrNotFound is returned by mutating operations on a missing call id.
// Lookups signal absence through their bool instead.
var ErrNotFound = errors.New("call not found")

// Store defines persistence for call records, transcripts and analyses.
//
// Implementations guarantee, at the interface level:
//   - upsert semantics: saving a record whose id exists overwrites in place;
//   - serialized writes: concurrent updates to the collection are applied in
//     some total order, never interleaved (single process only);
//   - dedup-on-read: a collection holding duplicate ids never surfaces them;
//   - enrichment-on-read: complete records with a stored analysis carry the
//     derived call-type label and aggregate compliance score, degrading to
//     the plain record when the analysis cannot be read.
type Store interface {
	SaveCall(rec domain.CallRecord) error
	GetCall(id string) (domain.CallRecord, bool, error)
	ListCalls() ([]domain.CallRecord, error)
	UpdateCall(id string, mutate func(*domain.CallRecord) error) (domain.CallRecord, error)
	DeleteCall(id string) error

	SaveTranscript(t domain.Transcript) error
	GetTranscript(callID string) (domain.Transcript, bool, error)

	SaveAnalysis(a domain.Analysis) error
	GetAnalysis(callID string) (domain.Analysis, bool, error)

	Stats() (Stats, error)
}

// Stats summarizes the whole collection plus artifact usage on disk.
type Stats struct {
	TotalCalls      int                       `json:"totalCalls"`
	ByStatus        map[domain.CallStatus]int `json:"byStatus"`
	AudioBytes      int64                     `json:"audioBytes"`
	TranscriptBytes int64                     `json:"transcriptBytes"`
	AnalysisBytes   int64                     `json:"analysisBytes"`
	TotalBytes      int64                     `json:"totalBytes"`
}

// enrich joins read-time derived fields onto a record. It never fails: when
// the analysis is unavailable the record is returned as stored.
func enrich(rec domain.CallRecord, lookup func(string) (domain.Analysis, bool, error)) domain.CallRecord {
	if rec.Status != domain.StatusComplete || rec.AnalysisRef == "" {
		return rec
	}
	analysis, ok, err := lookup(rec.ID)
	if err != nil || !ok {
		return rec
	}
	rec.CallType = analysis.CallType()
	if score, ok := analysis.ComplianceScore(); ok {
		rec.ComplianceScore = &score
	}
	return rec
}
