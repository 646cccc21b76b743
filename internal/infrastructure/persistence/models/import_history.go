package models

import (
	"time"

	"github.com/qbsync/backend/internal/domain/bulk"
)

// ImportHistoryModel is the persistence model for the ImportHistory domain entity.
type ImportHistoryModel struct {
	RecordColumns
	FileName          string            `gorm:"type:varchar(255);not null"`
	FileHash          string            `gorm:"type:varchar(64);index"`
	FileSize          int64             `gorm:"not null;default:0"`
	Source            bulk.ImportSource `gorm:"type:varchar(20);not null;default:'upload'"`
	TotalRows         int               `gorm:"not null;default:0"`
	TotalTransactions int               `gorm:"not null;default:0"`
	SuccessCount      int               `gorm:"not null;default:0"`
	SkippedCount      int               `gorm:"not null;default:0"`
	ErrorCount        int               `gorm:"not null;default:0"`
	Status            bulk.ImportStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Destination       string            `gorm:"type:varchar(1024)"`
	ErrorDetails      string            `gorm:"type:text"`
	StartedAt         *time.Time        `gorm:"index"`
	CompletedAt       *time.Time
}

// TableName returns the table name for GORM
func (ImportHistoryModel) TableName() string {
	return "import_histories"
}

// ToDomain converts the persistence model to a domain ImportHistory entity.
func (m *ImportHistoryModel) ToDomain() *bulk.ImportHistory {
	history := &bulk.ImportHistory{
		Record:            m.record(),
		FileName:          m.FileName,
		FileHash:          m.FileHash,
		FileSize:          m.FileSize,
		Source:            m.Source,
		TotalRows:         m.TotalRows,
		TotalTransactions: m.TotalTransactions,
		SuccessCount:      m.SuccessCount,
		SkippedCount:      m.SkippedCount,
		ErrorCount:        m.ErrorCount,
		Status:            m.Status,
		Destination:       m.Destination,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
	}

	if m.ErrorDetails != "" {
		_ = history.SetErrorDetailsFromJSON(m.ErrorDetails)
	}

	return history
}

// FromDomain populates the persistence model from a domain ImportHistory entity.
func (m *ImportHistoryModel) FromDomain(h *bulk.ImportHistory) {
	m.RecordColumns = recordColumns(h.Record)
	m.FileName = h.FileName
	m.FileHash = h.FileHash
	m.FileSize = h.FileSize
	m.Source = h.Source
	m.TotalRows = h.TotalRows
	m.TotalTransactions = h.TotalTransactions
	m.SuccessCount = h.SuccessCount
	m.SkippedCount = h.SkippedCount
	m.ErrorCount = h.ErrorCount
	m.Status = h.Status
	m.Destination = h.Destination
	m.StartedAt = h.StartedAt
	m.CompletedAt = h.CompletedAt

	if errorJSON, err := h.ErrorDetailsJSON(); err == nil {
		m.ErrorDetails = errorJSON
	} else {
		m.ErrorDetails = "[]"
	}
}

// ImportHistoryModelFromDomain creates a new persistence model from a domain ImportHistory entity.
func ImportHistoryModelFromDomain(h *bulk.ImportHistory) *ImportHistoryModel {
	m := &ImportHistoryModel{}
	m.FromDomain(h)
	return m
}
