package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used by the Postgres backend.

type CallModel struct {
	ID               string `gorm:"primaryKey"`
	Filename         string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	AgentName        string
	AgentID          string `gorm:"index"`
	PhoneNumber      string
	ExternalCallID   string `gorm:"index"`
	Timestamp        time.Time
	DurationSeconds  float64
	SizeBytes        int64
	Status           string `gorm:"not null;index"`
	TranscriptRef    string
	AnalysisRef      string
	OverallScore     *float64
	ErrorMessage     string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type TranscriptModel struct {
	CallID          string         `gorm:"primaryKey"`
	Turns           datatypes.JSON `gorm:"type:jsonb"`
	DurationSeconds float64
	Language        string
	CreatedAt       time.Time `gorm:"not null"`
}

type AnalysisModel struct {
	CallID    string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
}
