package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/infrastructure/persistence/models"
)

// historySortColumns are the columns a caller may order history by
var historySortColumns = map[string]bool{
	"created_at":    true,
	"file_name":     true,
	"file_size":     true,
	"total_rows":    true,
	"success_count": true,
	"error_count":   true,
	"status":        true,
	"started_at":    true,
	"completed_at":  true,
}

var newestFirst = clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}

// historyOrder turns the caller's sort request into an ORDER BY column.
// Unknown columns fall back to started_at and anything but "asc" sorts
// descending, so request text never reaches the SQL.
func historyOrder(field, dir string) clause.OrderByColumn {
	field = strings.TrimSpace(field)
	if !historySortColumns[field] {
		field = "started_at"
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: field},
		Desc:   !strings.EqualFold(strings.TrimSpace(dir), "asc"),
	}
}

// matching is a scope applying every set field of f
func matching(f bulk.ImportHistoryFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.Status != nil {
			q = q.Where("status = ?", *f.Status)
		}
		if f.Source != nil {
			q = q.Where("source = ?", *f.Source)
		}
		if f.FileName != "" {
			q = q.Where("file_name LIKE ?", "%"+f.FileName+"%")
		}
		if f.StartedFrom != nil {
			q = q.Where("started_at >= ?", *f.StartedFrom)
		}
		if f.StartedTo != nil {
			q = q.Where("started_at <= ?", *f.StartedTo)
		}
		return q
	}
}

// paged limits a query to one page; a non-positive page or size returns everything
func paged(page, size int) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if page <= 0 || size <= 0 {
			return q
		}
		return q.Offset((page - 1) * size).Limit(size)
	}
}

// GormImportHistoryRepository stores import history rows with GORM
type GormImportHistoryRepository struct {
	db *gorm.DB
}

func NewGormImportHistoryRepository(db *gorm.DB) *GormImportHistoryRepository {
	return &GormImportHistoryRepository{db: db}
}

// first loads the single row selected by q, mapping a miss to shared.ErrNotFound
func first(q *gorm.DB) (*bulk.ImportHistory, error) {
	var row models.ImportHistoryModel
	err := q.First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, shared.ErrNotFound
	case err != nil:
		return nil, err
	}
	return row.ToDomain(), nil
}

func (r *GormImportHistoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*bulk.ImportHistory, error) {
	return first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormImportHistoryRepository) FindLatestByFileHash(ctx context.Context, hash string) (*bulk.ImportHistory, error) {
	return first(r.db.WithContext(ctx).Where("file_hash = ?", hash).Order(newestFirst))
}

// FindAll counts the matching rows, then loads the requested page. Ties in
// the chosen order are broken newest first.
func (r *GormImportHistoryRepository) FindAll(
	ctx context.Context,
	filter bulk.ImportHistoryFilter,
	page, pageSize int,
) (*bulk.ImportHistoryListResult, error) {
	base := r.db.WithContext(ctx).Model(&models.ImportHistoryModel{}).Scopes(matching(filter))

	out := &bulk.ImportHistoryListResult{Page: page, PageSize: pageSize}
	if err := base.Session(&gorm.Session{}).Count(&out.TotalCount).Error; err != nil {
		return nil, err
	}

	var rows []models.ImportHistoryModel
	err := base.Scopes(paged(page, pageSize)).
		Order(historyOrder(filter.SortBy, filter.SortOrder)).
		Order(newestFirst).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out.Items = make([]*bulk.ImportHistory, len(rows))
	for i := range rows {
		out.Items[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (r *GormImportHistoryRepository) Save(ctx context.Context, history *bulk.ImportHistory) error {
	return r.db.WithContext(ctx).Save(models.ImportHistoryModelFromDomain(history)).Error
}

func (r *GormImportHistoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.ImportHistoryModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ bulk.ImportHistoryRepository = (*GormImportHistoryRepository)(nil)
