package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/qbsync/backend/internal/domain/shared"
)

// RecordColumns are the identity and bookkeeping columns every table shares
type RecordColumns struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	Version   int       `gorm:"not null;default:1"`
}

func recordColumns(r shared.Record) RecordColumns {
	return RecordColumns{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Version: r.Version}
}

func (c RecordColumns) record() shared.Record {
	return shared.Record{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, Version: c.Version}
}
