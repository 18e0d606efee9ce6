package repository

import (
	"context"

	"github.com/smallbiznis/docflow/pkg/db/option"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

// Store runs typed statements for model T. The handle is passed per call so
// one Store serves plain reads and statements inside an allocation
// transaction alike.
type Store[T any] struct {
	batchSize int
}

func NewStore[T any]() Store[T] {
	return Store[T]{batchSize: defaultBatchSize}
}

func (s Store[T]) Insert(ctx context.Context, tx *gorm.DB, row *T) error {
	return tx.WithContext(ctx).Create(row).Error
}

// InsertAll writes rows in batches. An empty slice is a no-op.
func (s Store[T]) InsertAll(ctx context.Context, tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	size := s.batchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	return tx.WithContext(ctx).CreateInBatches(&rows, size).Error
}

// Find returns the rows matching the non-zero fields of filter.
func (s Store[T]) Find(ctx context.Context, tx *gorm.DB, filter *T, opts ...option.QueryOption) ([]T, error) {
	var rows []T
	stmt := tx.WithContext(ctx).Where(filter)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// First returns the first match, reporting a miss through the bool rather
// than gorm.ErrRecordNotFound.
func (s Store[T]) First(ctx context.Context, tx *gorm.DB, filter *T, opts ...option.QueryOption) (*T, bool, error) {
	rows, err := s.Find(ctx, tx, filter, append(opts, option.WithLimit(1))...)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return &rows[0], true, nil
}

// DeleteWhere removes the rows matching query and returns how many went.
func (s Store[T]) DeleteWhere(ctx context.Context, tx *gorm.DB, query string, args ...any) (int64, error) {
	var model T
	res := tx.WithContext(ctx).Where(query, args...).Delete(&model)
	return res.RowsAffected, res.Error
}
