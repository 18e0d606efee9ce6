package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"github.com/smallbiznis/docflow/pkg/db/option"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
	"github.com/smallbiznis/docflow/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	documents   repository.Store[documentdomain.Document]
	items       repository.Store[documentdomain.Item]
	derivations repository.Store[documentdomain.Derivation]
}

func NewRepository() documentdomain.Repository {
	return &repo{
		documents:   repository.NewStore[documentdomain.Document](),
		items:       repository.NewStore[documentdomain.Item](),
		derivations: repository.NewStore[documentdomain.Derivation](),
	}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, doc *documentdomain.Document) error {
	return r.documents.Insert(ctx, tx, doc)
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*documentdomain.Document, error) {
	var doc documentdomain.Document
	err := tx.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, filter documentdomain.ListFilter, page pagination.Pagination) ([]*documentdomain.Document, error) {
	var docs []*documentdomain.Document
	stmt := tx.WithContext(ctx).Model(&documentdomain.Document{})
	if filter.DocumentType != "" {
		stmt = stmt.Where("document_type = ?", filter.DocumentType)
	}
	if filter.Period != "" {
		stmt = stmt.Where("period = ?", filter.Period)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Order("id desc").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ReplaceItems swaps the full item list and rewrites the totals of doc.
func (r *repo) ReplaceItems(ctx context.Context, tx *gorm.DB, doc *documentdomain.Document) error {
	if _, err := r.items.DeleteWhere(ctx, tx, "document_id = ?", doc.ID); err != nil {
		return err
	}
	if err := r.items.InsertAll(ctx, tx, doc.Items); err != nil {
		return err
	}

	return tx.WithContext(ctx).
		Model(&documentdomain.Document{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"subtotal":     doc.Subtotal,
			"tax_amount":   doc.TaxAmount,
			"tax_amount8":  doc.TaxAmount8,
			"tax_amount10": doc.TaxAmount10,
			"total_amount": doc.TotalAmount,
			"updated_at":   doc.UpdatedAt,
		}).Error
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status documentdomain.Status, now time.Time) error {
	return tx.WithContext(ctx).
		Model(&documentdomain.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		}).Error
}

// Delete removes the document, its items and every derivation link it
// takes part in. The number is not returned to any counter.
func (r *repo) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	if _, err := r.items.DeleteWhere(ctx, tx, "document_id = ?", id); err != nil {
		return false, err
	}
	if _, err := r.derivations.DeleteWhere(ctx, tx, "target_document_id = ? OR source_document_id = ?", id, id); err != nil {
		return false, err
	}
	affected, err := r.documents.DeleteWhere(ctx, tx, "id = ?", id)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *repo) InsertDerivation(ctx context.Context, tx *gorm.DB, d *documentdomain.Derivation) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_document_id"}, {Name: "target_type"}},
			DoNothing: true,
		}).
		Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListDerivations(ctx context.Context, tx *gorm.DB, sourceID snowflake.ID) ([]documentdomain.Derivation, error) {
	return r.derivations.Find(ctx, tx,
		&documentdomain.Derivation{SourceDocumentID: sourceID},
		option.WithOrder("created_at ASC"),
	)
}

func (r *repo) CountByNumberPrefix(ctx context.Context, tx *gorm.DB, documentType documentdomain.DocumentType, prefix string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&documentdomain.Document{}).
		Where("document_type = ? AND document_number LIKE ? ESCAPE '!'", documentType, likePrefix(prefix)).
		Count(&count).Error
	return count, err
}

func (r *repo) MaxNumberWithPrefix(ctx context.Context, tx *gorm.DB, documentType documentdomain.DocumentType, prefix string) (string, bool, error) {
	var numbers []string
	err := tx.WithContext(ctx).
		Model(&documentdomain.Document{}).
		Where("document_type = ? AND document_number LIKE ? ESCAPE '!'", documentType, likePrefix(prefix)).
		Order("LENGTH(document_number) DESC, document_number DESC").
		Limit(1).
		Pluck("document_number", &numbers).Error
	if err != nil {
		return "", false, err
	}
	if len(numbers) == 0 {
		return "", false, nil
	}
	return numbers[0], true, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
