package domain

import (
	"context"
	"errors"
	"time"

	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"gorm.io/gorm"
)

// NumberPath selects the number template when a type has more than one.
type NumberPath string

const (
	PathPrimary      NumberPath = "primary"
	PathFromEstimate NumberPath = "from_estimate"
)

// PeriodLayout formats the year-month key of a counter.
const PeriodLayout = "2006-01"

var (
	ErrAllocationConflict = errors.New("allocation_conflict")
	ErrTemplateMissing    = errors.New("number_template_missing")
	ErrInvalidTemplate    = errors.New("invalid_number_template")
	ErrInvalidSequence    = errors.New("invalid_sequence")
)

// DocumentNumber is an allocated, formatted document number.
type DocumentNumber struct {
	DocumentType documentdomain.DocumentType `json:"documentType"`
	YearMonth    string                      `json:"yearMonth"`
	Sequence     int64                       `json:"sequence"`
	Formatted    string                      `json:"formatted"`
}

// Counter holds the last issued sequence for one (type, period) key.
type Counter struct {
	DocumentType string    `gorm:"type:varchar(32);primaryKey"`
	Period       string    `gorm:"type:varchar(7);primaryKey"`
	LastValue    int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Counter) TableName() string { return "document_sequences" }

type AllocateRequest struct {
	DocumentType  documentdomain.DocumentType
	Path          NumberPath
	ReferenceDate time.Time
}

type Repository interface {
	// Increment bumps the counter and returns the new value. ok is false
	// when no counter row exists yet.
	Increment(ctx context.Context, tx *gorm.DB, documentType, period string, now time.Time) (value int64, ok bool, err error)
	Seed(ctx context.Context, tx *gorm.DB, documentType, period string, value int64, now time.Time) error
	Current(ctx context.Context, tx *gorm.DB, documentType, period string) (value int64, ok bool, err error)
}

// DocumentCounter reads existing documents to seed a new counter row.
type DocumentCounter interface {
	CountByNumberPrefix(ctx context.Context, tx *gorm.DB, documentType documentdomain.DocumentType, prefix string) (int64, error)
	MaxNumberWithPrefix(ctx context.Context, tx *gorm.DB, documentType documentdomain.DocumentType, prefix string) (string, bool, error)
}

type Allocator interface {
	// Allocate consumes the next number inside tx. It must run inside
	// WithinAllocation so conflicts are retried.
	Allocate(ctx context.Context, tx *gorm.DB, req AllocateRequest) (DocumentNumber, error)
	// WithinAllocation runs fn in a transaction, retrying transient
	// conflicts up to the configured budget.
	WithinAllocation(ctx context.Context, documentType documentdomain.DocumentType, fn func(tx *gorm.DB) error) error
	// Peek returns the number the next allocation would produce without
	// consuming it.
	Peek(ctx context.Context, req AllocateRequest) (DocumentNumber, error)
}

// Locker serializes allocation for one document type across processes.
// The database transaction stays authoritative; the lock only reduces
// contention, so callers proceed without it when it is unavailable.
type Locker interface {
	TryLockSequence(ctx context.Context, documentType documentdomain.DocumentType) (token string, ok bool, err error)
	ReleaseSequence(ctx context.Context, documentType documentdomain.DocumentType, token string) error
}
