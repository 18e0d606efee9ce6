package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, doc *Document) error
	FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Document, error)
	List(ctx context.Context, tx *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Document, error)
	ReplaceItems(ctx context.Context, tx *gorm.DB, doc *Document) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)

	// InsertDerivation reports false when the (source, target type) pair
	// already exists.
	InsertDerivation(ctx context.Context, tx *gorm.DB, d *Derivation) (bool, error)
	ListDerivations(ctx context.Context, tx *gorm.DB, sourceID snowflake.ID) ([]Derivation, error)

	CountByNumberPrefix(ctx context.Context, tx *gorm.DB, documentType DocumentType, prefix string) (int64, error)
	MaxNumberWithPrefix(ctx context.Context, tx *gorm.DB, documentType DocumentType, prefix string) (string, bool, error)
}
