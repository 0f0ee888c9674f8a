package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"callaudit/pkg/domain"
)

// GormStore implements Store on GORM + Postgres. The database enforces id
// uniqueness (no duplicates can exist, so dedup-on-read is trivially
// satisfied) and row-level locking provides the write serialization the
// file store gets from its mutex.
type GormStore struct {
	db       *gorm.DB
	audioDir string
}

// NewGormStore opens the DB and runs auto-migrations. audioDir is where the
// process keeps finalized audio artifacts; the stats query accounts for it.
func NewGormStore(dsn, audioDir string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&CallModel{}, &TranscriptModel{}, &AnalysisModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, audioDir: audioDir}, nil
}

func (s *GormStore) SaveCall(rec domain.CallRecord) error {
	model := callToModel(rec)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *GormStore) GetCall(id string) (domain.CallRecord, bool, error) {
	var model CallModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CallRecord{}, false, nil
	}
	if err != nil {
		return domain.CallRecord{}, false, fmt.Errorf("get call: %w", err)
	}
	return enrich(callFromModel(model), s.GetAnalysis), true, nil
}

func (s *GormStore) ListCalls() ([]domain.CallRecord, error) {
	var models []CallModel
	if err := s.db.Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	out := make([]domain.CallRecord, 0, len(models))
	for _, m := range models {
		out = append(out, enrich(callFromModel(m), s.GetAnalysis))
	}
	return out, nil
}

func (s *GormStore) UpdateCall(id string, mutate func(*domain.CallRecord) error) (domain.CallRecord, error) {
	var updated domain.CallRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model CallModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rec := callFromModel(model)
		if err := mutate(&rec); err != nil {
			return err
		}
		rec.ID = id // the id is immutable
		updated = rec
		return tx.Save(callToModel(rec)).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.CallRecord{}, ErrNotFound
		}
		return domain.CallRecord{}, fmt.Errorf("update call: %w", err)
	}
	return updated, nil
}

func (s *GormStore) DeleteCall(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&CallModel{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete call: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&TranscriptModel{}, "call_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete transcript: %w", err)
		}
		if err := tx.Delete(&AnalysisModel{}, "call_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete analysis: %w", err)
		}
		return nil
	})
}

func (s *GormStore) SaveTranscript(t domain.Transcript) error {
	if t.CallID == "" {
		return fmt.Errorf("transcript requires a call id")
	}
	turns, err := json.Marshal(t.Turns)
	if err != nil {
		return err
	}
	model := TranscriptModel{
		CallID:          t.CallID,
		Turns:           turns,
		DurationSeconds: t.DurationSeconds,
		Language:        t.Language,
		CreatedAt:       t.CreatedAt,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *GormStore) GetTranscript(callID string) (domain.Transcript, bool, error) {
	var model TranscriptModel
	err := s.db.First(&model, "call_id = ?", callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Transcript{}, false, nil
	}
	if err != nil {
		return domain.Transcript{}, false, fmt.Errorf("get transcript: %w", err)
	}
	t := domain.Transcript{
		CallID:          model.CallID,
		DurationSeconds: model.DurationSeconds,
		Language:        model.Language,
		CreatedAt:       model.CreatedAt,
	}
	if err := json.Unmarshal(model.Turns, &t.Turns); err != nil {
		return domain.Transcript{}, false, fmt.Errorf("decode turns: %w", err)
	}
	return t, true, nil
}

func (s *GormStore) SaveAnalysis(a domain.Analysis) error {
	if a.CallID == "" {
		return fmt.Errorf("analysis requires a call id")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	model := AnalysisModel{CallID: a.CallID, Payload: payload, CreatedAt: a.CreatedAt}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *GormStore) GetAnalysis(callID string) (domain.Analysis, bool, error) {
	var model AnalysisModel
	err := s.db.First(&model, "call_id = ?", callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Analysis{}, false, nil
	}
	if err != nil {
		return domain.Analysis{}, false, fmt.Errorf("get analysis: %w", err)
	}
	var a domain.Analysis
	if err := json.Unmarshal(model.Payload, &a); err != nil {
		return domain.Analysis{}, false, fmt.Errorf("decode analysis: %w", err)
	}
	return a, true, nil
}

func (s *GormStore) Stats() (Stats, error) {
	stats := Stats{ByStatus: make(map[domain.CallStatus]int)}

	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.Model(&CallModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("stats query: %w", err)
	}
	for _, row := range rows {
		stats.ByStatus[domain.CallStatus(row.Status)] = row.Count
		stats.TotalCalls += row.Count
	}

	var transcriptBytes, analysisBytes int64
	s.db.Model(&TranscriptModel{}).Select("coalesce(sum(length(turns::text)), 0)").Scan(&transcriptBytes)
	s.db.Model(&AnalysisModel{}).Select("coalesce(sum(length(payload::text)), 0)").Scan(&analysisBytes)
	stats.TranscriptBytes = transcriptBytes
	stats.AnalysisBytes = analysisBytes

	if s.audioDir != "" {
		n, err := dirBytes(s.audioDir)
		if err != nil {
			return Stats{}, err
		}
		stats.AudioBytes = n
	}
	stats.TotalBytes = stats.AudioBytes + stats.TranscriptBytes + stats.AnalysisBytes
	return stats, nil
}

func callToModel(rec domain.CallRecord) CallModel {
	return CallModel{
		ID:               rec.ID,
		Filename:         rec.Filename,
		OriginalFilename: rec.OriginalFilename,
		AgentName:        rec.AgentName,
		AgentID:          rec.AgentID,
		PhoneNumber:      rec.PhoneNumber,
		ExternalCallID:   rec.ExternalCallID,
		Timestamp:        rec.Timestamp,
		DurationSeconds:  rec.DurationSeconds,
		SizeBytes:        rec.SizeBytes,
		Status:           string(rec.Status),
		TranscriptRef:    rec.TranscriptRef,
		AnalysisRef:      rec.AnalysisRef,
		OverallScore:     rec.OverallScore,
		ErrorMessage:     rec.ErrorMessage,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func callFromModel(m CallModel) domain.CallRecord {
	return domain.CallRecord{
		ID:               m.ID,
		Filename:         m.Filename,
		OriginalFilename: m.OriginalFilename,
		AgentName:        m.AgentName,
		AgentID:          m.AgentID,
		PhoneNumber:      m.PhoneNumber,
		ExternalCallID:   m.ExternalCallID,
		Timestamp:        m.Timestamp,
		DurationSeconds:  m.DurationSeconds,
		SizeBytes:        m.SizeBytes,
		Status:           domain.CallStatus(m.Status),
		TranscriptRef:    m.TranscriptRef,
		AnalysisRef:      m.AnalysisRef,
		OverallScore:     m.OverallScore,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
