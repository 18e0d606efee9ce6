package service

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/docflow/internal/clock"
	"github.com/smallbiznis/docflow/internal/config"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"github.com/smallbiznis/docflow/internal/observability/metrics"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"github.com/smallbiznis/docflow/internal/sequence/format"
	"github.com/smallbiznis/docflow/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	retryBackoff    = 10 * time.Millisecond
	lockPoll        = 10 * time.Millisecond
	defaultLockWait = 500 * time.Millisecond
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      sequencedomain.Repository
	Documents sequencedomain.DocumentCounter
	Settings  *config.SettingsHolder
	Cfg       config.Config          `optional:"true"`
	Locker    sequencedomain.Locker  `optional:"true"`
	Clock     clock.Clock            `optional:"true"`
	Metrics   *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      sequencedomain.Repository
	documents sequencedomain.DocumentCounter
	settings  *config.SettingsHolder
	clock     clock.Clock
	metrics   *metrics.EngineMetrics
	locker    sequencedomain.Locker
	lockWait  time.Duration
	tracer    trace.Tracer
}

func NewService(p ServiceParam) *Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	lockWait := time.Duration(p.Cfg.RateLimit.SequenceLockWaitMillis) * time.Millisecond
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("sequence.service"),
		repo:      p.Repo,
		documents: p.Documents,
		settings:  p.Settings,
		clock:     c,
		metrics:   p.Metrics,
		locker:    p.Locker,
		lockWait:  lockWait,
		tracer:    otel.Tracer("docflow/sequence"),
	}
}

func (s *Service) Allocate(ctx context.Context, tx *gorm.DB, req sequencedomain.AllocateRequest) (sequencedomain.DocumentNumber, error) {
	ctx, span := s.tracer.Start(ctx, "sequence.allocate", trace.WithAttributes(
		attribute.String("document_type", string(req.DocumentType)),
		attribute.String("number_path", string(pathOrPrimary(req.Path))),
	))
	defer span.End()

	start := time.Now()
	number, err := s.allocate(ctx, tx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return sequencedomain.DocumentNumber{}, err
	}

	span.SetAttributes(
		attribute.String("year_month", number.YearMonth),
		attribute.Int64("sequence", number.Sequence),
	)
	s.recordAllocation(tx, req.DocumentType, time.Since(start))
	return number, nil
}

// recordAllocation defers the metric to the commit of the enclosing
// WithinAllocation attempt. Allocations on a caller-owned transaction are
// recorded immediately.
func (s *Service) recordAllocation(tx *gorm.DB, documentType documentdomain.DocumentType, took time.Duration) {
	if tx != nil && tx.Statement != nil {
		if pending := pendingFrom(tx.Statement.Context); pending != nil {
			pending.add(documentType, took)
			return
		}
	}
	s.metrics.RecordAllocation(string(documentType), took)
}

func (s *Service) allocate(ctx context.Context, tx *gorm.DB, req sequencedomain.AllocateRequest) (sequencedomain.DocumentNumber, error) {
	template, err := s.template(req.DocumentType, req.Path)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}

	ref := s.referenceDate(req.ReferenceDate)
	period := ref.Format(sequencedomain.PeriodLayout)
	now := s.clock.Now().UTC()

	seq, ok, err := s.repo.Increment(ctx, tx, string(req.DocumentType), period, now)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}
	if !ok {
		seq, err = s.seedValue(ctx, tx, req.DocumentType, ref)
		if err != nil {
			return sequencedomain.DocumentNumber{}, err
		}
		// A concurrent seeder wins on the primary key; the caller retries.
		if err := s.repo.Seed(ctx, tx, string(req.DocumentType), period, seq, now); err != nil {
			return sequencedomain.DocumentNumber{}, err
		}
	}

	formatted, err := format.FormatNumber(template, ref, seq)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}

	return sequencedomain.DocumentNumber{
		DocumentType: req.DocumentType,
		YearMonth:    period,
		Sequence:     seq,
		Formatted:    formatted,
	}, nil
}

func (s *Service) WithinAllocation(ctx context.Context, documentType documentdomain.DocumentType, fn func(tx *gorm.DB) error) error {
	maxAttempts := s.settings.Get().Numbering.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	unlock := s.lockSequence(ctx, documentType)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending := &pendingAllocations{}
		err := s.db.WithContext(withPending(ctx, pending)).Transaction(fn)
		if err == nil {
			pending.flush(s.metrics)
			return nil
		}

		reason := db.ClassifyTxErr(err)
		if reason == "" {
			return err
		}

		lastErr = err
		s.metrics.RecordRetry(string(documentType), reason)
		s.log.Warn("allocation transaction conflict",
			zap.String("document_type", string(documentType)),
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", sequencedomain.ErrAllocationConflict, documentType, maxAttempts, lastErr)
}

// lockSequence takes the cross-process lock for documentType, waiting up
// to lockWait. It falls back to running unlocked when the lock backend
// fails or stays contended.
func (s *Service) lockSequence(ctx context.Context, documentType documentdomain.DocumentType) func() {
	if s.locker == nil {
		return func() {}
	}

	deadline := time.Now().Add(s.lockWait)
	for {
		token, ok, err := s.locker.TryLockSequence(ctx, documentType)
		if err != nil {
			s.metrics.RecordLockFallback(string(documentType), "error")
			s.log.Warn("sequence lock unavailable, allocating without it",
				zap.String("document_type", string(documentType)),
				zap.Error(err),
			)
			return func() {}
		}
		if ok {
			return func() {
				if err := s.locker.ReleaseSequence(context.WithoutCancel(ctx), documentType, token); err != nil {
					s.log.Warn("sequence lock release failed",
						zap.String("document_type", string(documentType)),
						zap.Error(err),
					)
				}
			}
		}
		if !time.Now().Before(deadline) {
			s.metrics.RecordLockFallback(string(documentType), "timeout")
			s.log.Warn("sequence lock contended, allocating without it",
				zap.String("document_type", string(documentType)),
				zap.Duration("waited", s.lockWait),
			)
			return func() {}
		}

		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(lockPoll):
		}
	}
}

func (s *Service) Peek(ctx context.Context, req sequencedomain.AllocateRequest) (sequencedomain.DocumentNumber, error) {
	template, err := s.template(req.DocumentType, req.Path)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}

	ref := s.referenceDate(req.ReferenceDate)
	period := ref.Format(sequencedomain.PeriodLayout)
	tx := s.db.WithContext(ctx)

	current, ok, err := s.repo.Current(ctx, tx, string(req.DocumentType), period)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}
	next := current + 1
	if !ok {
		next, err = s.seedValue(ctx, tx, req.DocumentType, ref)
		if err != nil {
			return sequencedomain.DocumentNumber{}, err
		}
	}

	formatted, err := format.FormatNumber(template, ref, next)
	if err != nil {
		return sequencedomain.DocumentNumber{}, err
	}
	return sequencedomain.DocumentNumber{
		DocumentType: req.DocumentType,
		YearMonth:    period,
		Sequence:     next,
		Formatted:    formatted,
	}, nil
}

// seedValue derives the first counter value of a period from documents
// already stored: one past the larger of their count and their highest
// parsed sequence.
func (s *Service) seedValue(ctx context.Context, tx *gorm.DB, documentType documentdomain.DocumentType, ref time.Time) (int64, error) {
	var (
		count   int64
		highest int64
		seen    = map[string]bool{}
	)
	for _, key := range templateKeys(documentType) {
		template := s.settings.Template(key)
		if template == "" {
			continue
		}
		prefix, err := format.Prefix(template, ref)
		if err != nil {
			return 0, err
		}
		if seen[prefix] {
			continue
		}
		seen[prefix] = true

		n, err := s.documents.CountByNumberPrefix(ctx, tx, documentType, prefix)
		if err != nil {
			return 0, err
		}
		count += n

		number, found, err := s.documents.MaxNumberWithPrefix(ctx, tx, documentType, prefix)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		if seq, ok := format.ParseSequence(template, ref, number); ok && seq > highest {
			highest = seq
		}
	}

	if count > 0 {
		s.log.Info("seeding sequence from existing documents",
			zap.String("document_type", string(documentType)),
			zap.String("year_month", ref.Format(sequencedomain.PeriodLayout)),
			zap.Int64("count", count),
			zap.Int64("highest", highest),
		)
	}
	return max(count, highest) + 1, nil
}

func (s *Service) template(documentType documentdomain.DocumentType, path sequencedomain.NumberPath) (string, error) {
	key := templateKey(documentType, path)
	if key == "" {
		return "", fmt.Errorf("%w: %q", documentdomain.ErrInvalidDocumentType, documentType)
	}
	template := s.settings.Template(key)
	if template == "" {
		return "", fmt.Errorf("%w: %s", sequencedomain.ErrTemplateMissing, key)
	}
	return template, nil
}

func (s *Service) referenceDate(ref time.Time) time.Time {
	if ref.IsZero() {
		ref = s.clock.Now()
	}
	return ref.In(s.settings.Location())
}

func templateKey(documentType documentdomain.DocumentType, path sequencedomain.NumberPath) string {
	fromEstimate := pathOrPrimary(path) == sequencedomain.PathFromEstimate
	switch documentType {
	case documentdomain.TypeEstimate:
		return config.TemplateEstimate
	case documentdomain.TypePurchaseOrder:
		if fromEstimate {
			return config.TemplatePurchaseOrderFromEstimate
		}
		return config.TemplatePurchaseOrder
	case documentdomain.TypeOrderConfirmation:
		return config.TemplateOrderConfirmation
	case documentdomain.TypeDeliveryNote:
		return config.TemplateDeliveryNote
	case documentdomain.TypeInvoice:
		if fromEstimate {
			return config.TemplateInvoiceFromEstimate
		}
		return config.TemplateInvoice
	default:
		return ""
	}
}

// templateKeys lists every template that can number documentType; all of
// them share one counter per period.
func templateKeys(documentType documentdomain.DocumentType) []string {
	keys := []string{templateKey(documentType, sequencedomain.PathPrimary)}
	if alt := templateKey(documentType, sequencedomain.PathFromEstimate); alt != keys[0] {
		keys = append(keys, alt)
	}
	return keys
}

func pathOrPrimary(path sequencedomain.NumberPath) sequencedomain.NumberPath {
	if path == "" {
		return sequencedomain.PathPrimary
	}
	return path
}
