package bulk

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ImportHistoryFilter narrows a history listing. Nil and empty fields do
// not filter.
type ImportHistoryFilter struct {
	Status      *ImportStatus
	Source      *ImportSource
	FileName    string // substring match
	StartedFrom *time.Time
	StartedTo   *time.Time
	// SortBy names a column; unknown columns sort by started_at
	SortBy string
	// SortOrder is "asc" or "desc"; the default is descending
	SortOrder string
}

// ImportHistoryListResult is one page of a history listing
type ImportHistoryListResult struct {
	Items      []*ImportHistory
	TotalCount int64
	Page       int
	PageSize   int
}

// ImportHistoryRepository stores ImportHistory records. Lookups of a
// missing record return shared.ErrNotFound.
type ImportHistoryRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ImportHistory, error)
	// FindAll pages through the records matching filter
	FindAll(ctx context.Context, filter ImportHistoryFilter, page, pageSize int) (*ImportHistoryListResult, error)
	// FindLatestByFileHash returns the newest import of identical content
	FindLatestByFileHash(ctx context.Context, hash string) (*ImportHistory, error)
	// Save inserts or updates
	Save(ctx context.Context, history *ImportHistory) error
	Delete(ctx context.Context, id uuid.UUID) error
}
