package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/docflow/internal/clock"
	"github.com/smallbiznis/docflow/internal/config"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"github.com/smallbiznis/docflow/internal/observability/metrics"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	taxservice "github.com/smallbiznis/docflow/internal/tax/service"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       documentdomain.Repository
	Allocator  sequencedomain.Allocator
	Calculator taxdomain.Calculator
	Resolver   taxdomain.Resolver
	Settings   *config.SettingsHolder
	Clock      clock.Clock            `optional:"true"`
	Metrics    *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       documentdomain.Repository
	allocator  sequencedomain.Allocator
	calculator taxdomain.Calculator
	resolver   taxdomain.Resolver
	settings   *config.SettingsHolder
	clock      clock.Clock
	metrics    *metrics.EngineMetrics
	tracer     trace.Tracer
}

func NewService(p ServiceParam) documentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	p.Metrics.RegisterClassifier(ClassifyOutcome)

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("document.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		allocator:  p.Allocator,
		calculator: p.Calculator,
		resolver:   p.Resolver,
		settings:   p.Settings,
		clock:      c,
		metrics:    p.Metrics,
		tracer:     otel.Tracer("docflow/document"),
	}
}

func (s *Service) Create(ctx context.Context, req documentdomain.CreateRequest) (resp documentdomain.Response, err error) {
	ctx, span := s.tracer.Start(ctx, "document.create")
	defer func() { s.finish(span, metrics.OperationCreate, err) }()

	docType, err := documentdomain.ParseDocumentType(req.DocumentType)
	if err != nil {
		return documentdomain.Response{}, err
	}
	span.SetAttributes(attribute.String("document_type", string(docType)))

	counterparty := strings.TrimSpace(req.CounterpartyName)
	if counterparty == "" {
		return documentdomain.Response{}, documentdomain.ErrInvalidCounterparty
	}

	cfg, err := s.resolver.Resolve(req.Tax)
	if err != nil {
		return documentdomain.Response{}, err
	}

	items, err := taxservice.ParseLineItems(req.Items, cfg)
	if err != nil {
		return documentdomain.Response{}, err
	}

	totals, err := s.calculator.Calculate(items, cfg)
	if err != nil {
		return documentdomain.Response{}, err
	}

	now := s.clock.Now()
	issueDate := now
	if req.IssueDate != nil && !req.IssueDate.IsZero() {
		issueDate = *req.IssueDate
	}

	doc := &documentdomain.Document{
		ID:               s.genID.Generate(),
		DocumentType:     docType,
		Status:           documentdomain.StatusDraft,
		CounterpartyName: counterparty,
		Honorific:        strings.TrimSpace(req.Honorific),
		Subject:          strings.TrimSpace(req.Subject),
		IssueDate:        issueDate,
		DueDate:          req.DueDate,
		DeliveryDate:     req.DeliveryDate,
		ValidUntil:       req.ValidUntil,
		TaxType:          cfg.TaxType,
		TaxRate:          cfg.TaxRate,
		RoundingType:     cfg.RoundingType,
		Metadata:         toJSONMap(req.Metadata),
	}
	doc.SetTotals(totals)
	s.applyTypeDefaults(doc, now)
	s.attachItems(doc, items)

	if err := s.insertNumbered(ctx, doc, sequencedomain.PathPrimary, now, nil); err != nil {
		return documentdomain.Response{}, err
	}

	s.log.Info("document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("document_type", string(doc.DocumentType)),
		zap.String("document_number", doc.DocumentNumber),
	)
	return documentdomain.NewResponse(doc, nil), nil
}

func (s *Service) Duplicate(ctx context.Context, id string) (resp documentdomain.Response, err error) {
	ctx, span := s.tracer.Start(ctx, "document.duplicate")
	defer func() { s.finish(span, metrics.OperationDuplicate, err) }()

	source, err := s.load(ctx, s.db, id)
	if err != nil {
		return documentdomain.Response{}, err
	}
	span.SetAttributes(attribute.String("document_type", string(source.DocumentType)))

	cfg := source.TaxConfiguration()
	items := source.LineItems()
	totals, err := s.calculator.Calculate(items, cfg)
	if err != nil {
		return documentdomain.Response{}, err
	}

	now := s.clock.Now()
	sourceID := source.ID
	doc := &documentdomain.Document{
		ID:               s.genID.Generate(),
		DocumentType:     source.DocumentType,
		Status:           documentdomain.StatusDraft,
		CounterpartyName: source.CounterpartyName,
		Honorific:        source.Honorific,
		Subject:          source.Subject,
		IssueDate:        now,
		TaxType:          cfg.TaxType,
		TaxRate:          cfg.TaxRate,
		RoundingType:     cfg.RoundingType,
		SourceDocumentID: &sourceID,
		Metadata:         copyJSONMap(source.Metadata),
	}
	doc.SetTotals(totals)
	s.applyTypeDefaults(doc, now)
	s.attachItems(doc, items)

	if err := s.insertNumbered(ctx, doc, sequencedomain.PathPrimary, now, nil); err != nil {
		return documentdomain.Response{}, err
	}

	s.log.Info("document duplicated",
		zap.String("source_document_id", source.ID.String()),
		zap.String("document_id", doc.ID.String()),
		zap.String("document_number", doc.DocumentNumber),
	)
	return documentdomain.NewResponse(doc, nil), nil
}

// Derive builds a new document of the target type from an estimate. Every
// copied item is re-taxed as taxable at the target's default rate,
// whatever its classification on the estimate.
func (s *Service) Derive(ctx context.Context, req documentdomain.DeriveRequest) (resp documentdomain.Response, err error) {
	ctx, span := s.tracer.Start(ctx, "document.derive")
	defer func() { s.finish(span, metrics.OperationDerive, err) }()

	target, err := documentdomain.ParseDocumentType(req.TargetType)
	if err != nil {
		return documentdomain.Response{}, err
	}
	if !documentdomain.Derivable(target) {
		return documentdomain.Response{}, documentdomain.ErrInvalidDerivationTarget
	}
	span.SetAttributes(attribute.String("target_type", string(target)))

	source, err := s.load(ctx, s.db, req.SourceID)
	if err != nil {
		return documentdomain.Response{}, err
	}
	if source.DocumentType != documentdomain.TypeEstimate {
		return documentdomain.Response{}, documentdomain.ErrInvalidDerivationSource
	}

	cfg := taxdomain.TaxConfiguration{
		TaxType:      source.TaxType,
		TaxRate:      s.resolver.Default().TaxRate,
		RoundingType: source.RoundingType,
	}
	items := source.LineItems()
	for i := range items {
		items[i].TaxType = taxdomain.ItemTaxable
		items[i].TaxRate = cfg.TaxRate
	}

	totals, err := s.calculator.Calculate(items, cfg)
	if err != nil {
		return documentdomain.Response{}, err
	}

	now := s.clock.Now()
	sourceID := source.ID
	doc := &documentdomain.Document{
		ID:               s.genID.Generate(),
		DocumentType:     target,
		Status:           documentdomain.StatusDraft,
		CounterpartyName: source.CounterpartyName,
		Honorific:        source.Honorific,
		Subject:          source.Subject,
		IssueDate:        now,
		TaxType:          cfg.TaxType,
		TaxRate:          cfg.TaxRate,
		RoundingType:     cfg.RoundingType,
		SourceDocumentID: &sourceID,
		Metadata:         copyJSONMap(source.Metadata),
	}
	doc.SetTotals(totals)
	s.applyTypeDefaults(doc, now)
	s.attachItems(doc, items)

	var derivation *documentdomain.Derivation
	if documentdomain.IsOneToOne(target) {
		derivation = &documentdomain.Derivation{
			ID:               s.genID.Generate(),
			SourceDocumentID: source.ID,
			TargetType:       target,
			TargetDocumentID: doc.ID,
		}
	}

	if err := s.insertNumbered(ctx, doc, sequencedomain.PathFromEstimate, now, derivation); err != nil {
		return documentdomain.Response{}, err
	}

	s.log.Info("document derived",
		zap.String("source_document_id", source.ID.String()),
		zap.String("target_type", string(target)),
		zap.String("document_id", doc.ID.String()),
		zap.String("document_number", doc.DocumentNumber),
	)
	return documentdomain.NewResponse(doc, nil), nil
}

func (s *Service) UpdateItems(ctx context.Context, req documentdomain.UpdateItemsRequest) (resp documentdomain.Response, err error) {
	defer func() { s.metrics.RecordOperation(metrics.OperationUpdateItems, err) }()

	var doc *documentdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.load(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if loaded.Status == documentdomain.StatusPaid || loaded.Status == documentdomain.StatusCancelled {
			return documentdomain.ErrDocumentLocked
		}

		cfg := loaded.TaxConfiguration()
		items, err := taxservice.ParseLineItems(req.Items, cfg)
		if err != nil {
			return err
		}
		totals, err := s.calculator.Calculate(items, cfg)
		if err != nil {
			return err
		}

		loaded.SetTotals(totals)
		loaded.UpdatedAt = s.clock.Now().UTC()
		s.attachItems(loaded, items)
		if err := s.repo.ReplaceItems(ctx, tx, loaded); err != nil {
			return err
		}
		doc = loaded
		return nil
	})
	if err != nil {
		return documentdomain.Response{}, err
	}
	return documentdomain.NewResponse(doc, nil), nil
}

func (s *Service) UpdateStatus(ctx context.Context, req documentdomain.UpdateStatusRequest) (resp documentdomain.Response, err error) {
	defer func() { s.metrics.RecordOperation(metrics.OperationUpdateStatus, err) }()

	next, err := documentdomain.ParseStatus(req.Status)
	if err != nil {
		return documentdomain.Response{}, err
	}

	var doc *documentdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.load(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if !loaded.Status.CanTransition(loaded.DocumentType, next) {
			return documentdomain.ErrInvalidTransition
		}
		now := s.clock.Now().UTC()
		if err := s.repo.UpdateStatus(ctx, tx, loaded.ID, next, now); err != nil {
			return err
		}
		loaded.Status = next
		loaded.UpdatedAt = now
		doc = loaded
		return nil
	})
	if err != nil {
		return documentdomain.Response{}, err
	}
	return documentdomain.NewResponse(doc, nil), nil
}

func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.RecordOperation(metrics.OperationDelete, err) }()

	docID, err := parseID(id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.Delete(ctx, tx, docID)
		if err != nil {
			return err
		}
		if !ok {
			return documentdomain.ErrNotFound
		}
		s.log.Info("document deleted", zap.String("document_id", docID.String()))
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (documentdomain.Response, error) {
	doc, err := s.load(ctx, s.db, id)
	if err != nil {
		return documentdomain.Response{}, err
	}

	var derivations []documentdomain.Derivation
	if doc.DocumentType == documentdomain.TypeEstimate {
		derivations, err = s.repo.ListDerivations(ctx, s.db, doc.ID)
		if err != nil {
			return documentdomain.Response{}, err
		}
	}
	return documentdomain.NewResponse(doc, derivations), nil
}

func (s *Service) List(ctx context.Context, req documentdomain.ListRequest) (documentdomain.ListResponse, error) {
	var filter documentdomain.ListFilter
	if strings.TrimSpace(req.DocumentType) != "" {
		docType, err := documentdomain.ParseDocumentType(req.DocumentType)
		if err != nil {
			return documentdomain.ListResponse{}, err
		}
		filter.DocumentType = docType
	}
	if period := strings.TrimSpace(req.Period); period != "" {
		if _, err := time.Parse(sequencedomain.PeriodLayout, period); err != nil {
			return documentdomain.ListResponse{}, &taxdomain.ValidationErrors{Errors: []taxdomain.ValidationError{{
				Index: -1, Field: "yearMonth", Code: "malformed", Message: "yearMonth must be YYYY-MM",
			}}}
		}
		filter.Period = period
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := documentdomain.ParseStatus(req.Status)
		if err != nil {
			return documentdomain.ListResponse{}, err
		}
		filter.Status = status
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: int(req.PageSize)}
	if page.PageToken != "" {
		if _, err := pagination.DecodeCursor(page.PageToken); err != nil {
			return documentdomain.ListResponse{}, err
		}
	}

	rows, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return documentdomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Trim(rows, page.Size(), func(doc *documentdomain.Document) pagination.Cursor {
		return pagination.Cursor{ID: doc.ID.String()}
	})

	docs := make([]documentdomain.Response, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		docs = append(docs, documentdomain.NewResponse(item, nil))
	}

	return documentdomain.ListResponse{Documents: docs, PageInfo: pageInfo}, nil
}

// insertNumbered allocates a number and inserts doc in one transaction.
// The derivation row, when given, is claimed first so a second one-to-one
// derivation fails before consuming a number.
func (s *Service) insertNumbered(ctx context.Context, doc *documentdomain.Document, path sequencedomain.NumberPath, now time.Time, derivation *documentdomain.Derivation) error {
	return s.allocator.WithinAllocation(ctx, doc.DocumentType, func(tx *gorm.DB) error {
		if derivation != nil {
			ok, err := s.repo.InsertDerivation(ctx, tx, derivation)
			if err != nil {
				return err
			}
			if !ok {
				return documentdomain.ErrDerivationConflict
			}
		}

		number, err := s.allocator.Allocate(ctx, tx, sequencedomain.AllocateRequest{
			DocumentType:  doc.DocumentType,
			Path:          path,
			ReferenceDate: now,
		})
		if err != nil {
			return err
		}
		doc.DocumentNumber = number.Formatted
		doc.Period = number.YearMonth
		doc.Sequence = number.Sequence

		return s.repo.Insert(ctx, tx, doc)
	})
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id string) (*documentdomain.Document, error) {
	docID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.FindByID(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, documentdomain.ErrNotFound
	}
	return doc, nil
}

// applyTypeDefaults fills dates and the honorific the caller left empty.
func (s *Service) applyTypeDefaults(doc *documentdomain.Document, now time.Time) {
	settings := s.settings.Get().Derivation
	loc := s.settings.Location()
	today := dateOf(now.In(loc))

	if doc.Honorific == "" {
		doc.Honorific = settings.DefaultHonorific
	}

	switch doc.DocumentType {
	case documentdomain.TypeInvoice:
		if doc.DueDate == nil {
			due := EndOfFollowingMonth(today)
			doc.DueDate = &due
		}
	case documentdomain.TypePurchaseOrder:
		if doc.DeliveryDate == nil {
			delivery := today.AddDate(0, 0, settings.PurchaseOrderLeadDays)
			doc.DeliveryDate = &delivery
		}
	case documentdomain.TypeEstimate:
		if doc.ValidUntil == nil {
			validUntil := today.AddDate(0, 0, settings.EstimateValidDays)
			doc.ValidUntil = &validUntil
		}
	}
}

// attachItems replaces doc.Items with fresh rows for items.
func (s *Service) attachItems(doc *documentdomain.Document, items []taxdomain.LineItem) {
	doc.Items = make([]documentdomain.Item, 0, len(items))
	for _, li := range items {
		doc.Items = append(doc.Items, documentdomain.NewItem(s.genID.Generate(), doc.ID, li))
	}
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	s.metrics.RecordOperation(operation, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
	}
	span.End()
}

// EndOfFollowingMonth returns the last day of the month after t.
func EndOfFollowingMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+2, 0, 0, 0, 0, 0, t.Location())
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func parseID(id string) (snowflake.ID, error) {
	docID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || docID == 0 {
		return 0, documentdomain.ErrInvalidID
	}
	return docID, nil
}

func toJSONMap(in map[string]any) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	return datatypes.JSONMap(in)
}

func copyJSONMap(in datatypes.JSONMap) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ClassifyOutcome maps document and tax errors to a metrics outcome.
func ClassifyOutcome(err error) string {
	var verr *taxdomain.ValidationErrors
	switch {
	case errors.As(err, &verr),
		errors.Is(err, taxdomain.ErrUnsupportedTaxRate),
		errors.Is(err, documentdomain.ErrInvalidID),
		errors.Is(err, documentdomain.ErrInvalidDocumentType),
		errors.Is(err, documentdomain.ErrInvalidStatus),
		errors.Is(err, documentdomain.ErrInvalidTransition),
		errors.Is(err, documentdomain.ErrInvalidCounterparty),
		errors.Is(err, documentdomain.ErrInvalidDerivationSource),
		errors.Is(err, documentdomain.ErrInvalidDerivationTarget),
		errors.Is(err, documentdomain.ErrDocumentLocked):
		return metrics.OutcomeValidation
	case errors.Is(err, documentdomain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, documentdomain.ErrDerivationConflict),
		errors.Is(err, sequencedomain.ErrAllocationConflict):
		return metrics.OutcomeConflict
	default:
		return ""
	}
}
