package repository

import (
	"context"
	"time"

	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"github.com/smallbiznis/docflow/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	counters repository.Store[sequencedomain.Counter]
}

func NewRepository() sequencedomain.Repository {
	return &repo{counters: repository.NewStore[sequencedomain.Counter]()}
}

func (r *repo) Increment(ctx context.Context, tx *gorm.DB, documentType, period string, now time.Time) (int64, bool, error) {
	// The UPDATE holds the row lock until the surrounding transaction ends.
	res := tx.WithContext(ctx).Exec(
		`UPDATE document_sequences
		 SET last_value = last_value + 1, updated_at = ?
		 WHERE document_type = ? AND period = ?`,
		now, documentType, period,
	)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	return r.Current(ctx, tx, documentType, period)
}

func (r *repo) Seed(ctx context.Context, tx *gorm.DB, documentType, period string, value int64, now time.Time) error {
	return r.counters.Insert(ctx, tx, &sequencedomain.Counter{
		DocumentType: documentType,
		Period:       period,
		LastValue:    value,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (r *repo) Current(ctx context.Context, tx *gorm.DB, documentType, period string) (int64, bool, error) {
	counter, ok, err := r.counters.First(ctx, tx, &sequencedomain.Counter{DocumentType: documentType, Period: period})
	if err != nil || !ok {
		return 0, false, err
	}
	return counter.LastValue, true, nil
}
