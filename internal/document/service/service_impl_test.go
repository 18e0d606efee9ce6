package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/docflow/internal/clock"
	"github.com/smallbiznis/docflow/internal/config"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	documentrepository "github.com/smallbiznis/docflow/internal/document/repository"
	"github.com/smallbiznis/docflow/internal/migration/migrationtest"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	sequencerepository "github.com/smallbiznis/docflow/internal/sequence/repository"
	sequenceservice "github.com/smallbiznis/docflow/internal/sequence/service"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	taxservice "github.com/smallbiznis/docflow/internal/tax/service"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var march2024 = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.Local)

type fixture struct {
	db        *gorm.DB
	svc       documentdomain.Service
	allocator *sequenceservice.Service
	clock     *clock.FakeClock
}

func newFixture(t *testing.T, settings config.Settings) *fixture {
	t.Helper()

	conn := migrationtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	holder := config.NewStaticSettingsHolder(settings)
	fake := clock.NewFakeClock(march2024)
	repo := documentrepository.NewRepository()

	allocator := sequenceservice.NewService(sequenceservice.ServiceParam{
		DB:        conn,
		Log:       log,
		Repo:      sequencerepository.NewRepository(),
		Documents: repo,
		Settings:  holder,
		Clock:     fake,
	})

	svc := NewService(ServiceParam{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Repo:       repo,
		Allocator:  allocator,
		Calculator: taxservice.NewCalculator(taxservice.CalculatorParam{Log: log, Policy: holder}),
		Resolver:   taxservice.NewResolver(taxservice.ResolverParam{Settings: holder}),
		Settings:   holder,
		Clock:      fake,
	})

	return &fixture{db: conn, svc: svc, allocator: allocator, clock: fake}
}

func scenarioItems() []taxdomain.LineItemInput {
	return []taxdomain.LineItemInput{
		{Name: "Consulting", Quantity: "2", UnitPrice: "5000", TaxType: "taxable", TaxRate: "10"},
		{Name: "Stamp duty", Quantity: "1", UnitPrice: "3000", TaxType: "non-taxable"},
	}
}

func (f *fixture) create(t *testing.T, docType documentdomain.DocumentType, items []taxdomain.LineItemInput) documentdomain.Response {
	t.Helper()

	resp, err := f.svc.Create(context.Background(), documentdomain.CreateRequest{
		DocumentType:     string(docType),
		CounterpartyName: "Acme KK",
		Subject:          "Website renewal",
		Items:            items,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()

	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestCreate_EstimateComputesTotalsAndNumber(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	resp := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	assert.Equal(t, "2024-03-001", resp.EstimateNumber)
	assert.Equal(t, "2024-03-001", resp.Number())
	assert.Equal(t, "2024-03", resp.Period)
	assert.Equal(t, documentdomain.StatusDraft, resp.Status)
	assert.Equal(t, "御中", resp.Honorific)
	assert.True(t, resp.Subtotal.Equal(dec("13000")))
	assert.True(t, resp.TaxAmount10.Equal(dec("1000")))
	assert.True(t, resp.TaxAmount8.IsZero())
	assert.True(t, resp.TaxAmount.Equal(dec("1000")))
	assert.True(t, resp.TotalAmount.Equal(dec("14000")))
	require.NotNil(t, resp.ValidUntil)
	assert.Equal(t, time.Date(2024, time.April, 9, 0, 0, 0, 0, time.Local), *resp.ValidUntil)

	stored, err := f.svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.True(t, stored.MonetaryTotals.Equal(resp.MonetaryTotals))
	require.Len(t, stored.Items, 2)
	assert.Equal(t, 1, stored.Items[0].DisplayOrder)
	assert.Equal(t, 2, stored.Items[1].DisplayOrder)
}

func TestCreate_InvoiceDefaultsDueDateToEndOfFollowingMonth(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	resp := f.create(t, documentdomain.TypeInvoice, scenarioItems())

	assert.Equal(t, "INV-202403-0001", resp.InvoiceNumber)
	require.NotNil(t, resp.DueDate)
	assert.Equal(t, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.Local), *resp.DueDate)
}

func TestCreate_PurchaseOrderDefaultsDeliveryDate(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	resp := f.create(t, documentdomain.TypePurchaseOrder, scenarioItems())

	assert.Equal(t, "2024-03-001", resp.OrderNumber)
	require.NotNil(t, resp.DeliveryDate)
	assert.Equal(t, time.Date(2024, time.April, 9, 0, 0, 0, 0, time.Local), *resp.DeliveryDate)
}

func TestCreate_KeepsExplicitDates(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	due := time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

	resp, err := f.svc.Create(context.Background(), documentdomain.CreateRequest{
		DocumentType:     "invoice",
		CounterpartyName: "Acme KK",
		Honorific:        "様",
		DueDate:          &due,
		Items:            scenarioItems(),
	})
	require.NoError(t, err)
	assert.True(t, resp.DueDate.Equal(due))
	assert.Equal(t, "様", resp.Honorific)
}

func TestCreate_ValidationFailureConsumesNothing(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	_, err := f.svc.Create(context.Background(), documentdomain.CreateRequest{
		DocumentType:     "estimate",
		CounterpartyName: "Acme KK",
		Items: []taxdomain.LineItemInput{
			{Name: "ok", Quantity: "1", UnitPrice: "100"},
			{Name: "bad", Quantity: "two", UnitPrice: "100"},
		},
	})

	var verr *taxdomain.ValidationErrors
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, 1, verr.Errors[0].Index)
	assert.Equal(t, "quantity", verr.Errors[0].Field)
	assert.Equal(t, int64(0), f.count(t, &documentdomain.Document{}, "1 = 1"))
	assert.Equal(t, int64(0), f.count(t, &sequencedomain.Counter{}, "1 = 1"))
}

func TestCreate_RejectsUnknownTypeAndMissingCounterparty(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	_, err := f.svc.Create(context.Background(), documentdomain.CreateRequest{DocumentType: "receipt", CounterpartyName: "Acme"})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidDocumentType)

	_, err = f.svc.Create(context.Background(), documentdomain.CreateRequest{DocumentType: "estimate", CounterpartyName: "  "})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidCounterparty)
}

func TestCreate_StrictModeRejectsUnsupportedRate(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Tax.StrictRates = true
	f := newFixture(t, settings)

	_, err := f.svc.Create(context.Background(), documentdomain.CreateRequest{
		DocumentType:     "estimate",
		CounterpartyName: "Acme KK",
		Items: []taxdomain.LineItemInput{
			{Name: "odd", Quantity: "1", UnitPrice: "1000", TaxType: "taxable", TaxRate: "5"},
		},
	})
	assert.ErrorIs(t, err, taxdomain.ErrUnsupportedTaxRate)
	assert.Equal(t, int64(0), f.count(t, &documentdomain.Document{}, "1 = 1"))
}

func TestCreate_EmptyItemsYieldZeroTotals(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	resp := f.create(t, documentdomain.TypeDeliveryNote, nil)

	assert.Equal(t, "2024-03-001", resp.DeliveryNoteNumber)
	assert.True(t, resp.TotalAmount.IsZero())
	assert.Empty(t, resp.Items)
}

func TestDuplicate_NewNumberSameTotals(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	source := f.create(t, documentdomain.TypeEstimate, append(scenarioItems(),
		taxdomain.LineItemInput{Name: "Lunch", Quantity: "3", UnitPrice: "1234", TaxType: "taxable", TaxRate: "8"},
	))

	f.clock.Advance(48 * time.Hour)
	dup, err := f.svc.Duplicate(context.Background(), source.ID)
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, dup.ID)
	assert.NotEqual(t, source.EstimateNumber, dup.EstimateNumber)
	assert.Equal(t, "2024-03-002", dup.EstimateNumber)
	assert.True(t, dup.MonetaryTotals.Equal(source.MonetaryTotals))
	assert.Equal(t, documentdomain.StatusDraft, dup.Status)
	assert.Equal(t, source.ID, dup.SourceDocumentID)
	assert.Equal(t, march2024.Add(48*time.Hour), dup.IssueDate)

	require.Len(t, dup.Items, len(source.Items))
	for i := range dup.Items {
		assert.Equal(t, source.Items[i].DisplayOrder, dup.Items[i].DisplayOrder)
		assert.Equal(t, source.Items[i].Name, dup.Items[i].Name)
		assert.Equal(t, source.Items[i].TaxType, dup.Items[i].TaxType)
		assert.True(t, source.Items[i].TaxRate.Equal(dup.Items[i].TaxRate))
	}
}

func TestDuplicate_UnknownDocument(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())

	_, err := f.svc.Duplicate(context.Background(), "1234567890")
	assert.ErrorIs(t, err, documentdomain.ErrNotFound)

	_, err = f.svc.Duplicate(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, documentdomain.ErrInvalidID)
}

func TestDerive_InvoiceFromTenPercentEstimateKeepsTotals(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, []taxdomain.LineItemInput{
		{Name: "Design", Quantity: "3", UnitPrice: "3333", TaxType: "taxable", TaxRate: "10"},
		{Name: "Build", Quantity: "1", UnitPrice: "120000", TaxType: "taxable", TaxRate: "10"},
	})

	invoice, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{
		SourceID:   estimate.ID,
		TargetType: "invoice",
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-202403-0001", invoice.InvoiceNumber)
	assert.True(t, invoice.TotalAmount.Equal(estimate.TotalAmount))
	assert.True(t, invoice.MonetaryTotals.Equal(estimate.MonetaryTotals))
	assert.Equal(t, estimate.ID, invoice.SourceDocumentID)
	require.NotNil(t, invoice.DueDate)
	assert.Equal(t, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.Local), *invoice.DueDate)

	stored, err := f.svc.Get(context.Background(), estimate.ID)
	require.NoError(t, err)
	require.Len(t, stored.Derivations, 1)
	assert.Equal(t, invoice.ID, stored.Derivations[0].TargetDocumentID)
}

func TestDerive_SecondInvoiceFailsAndLeavesNoRows(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	_, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.NoError(t, err)

	_, err = f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.ErrorIs(t, err, documentdomain.ErrDerivationConflict)

	assert.Equal(t, int64(1), f.count(t, &documentdomain.Document{}, "document_type = ?", documentdomain.TypeInvoice))
	estimateID, err := snowflake.ParseString(estimate.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.count(t, &documentdomain.Derivation{}, "source_document_id = ?", estimateID))

	next, err := f.allocator.Peek(context.Background(), sequencedomain.AllocateRequest{
		DocumentType: documentdomain.TypeInvoice,
		Path:         sequencedomain.PathFromEstimate,
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-0002", next.Formatted)
}

func TestDerive_RetaxesEveryItemAtTargetRate(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, []taxdomain.LineItemInput{
		{Name: "Food", Quantity: "1", UnitPrice: "1000", TaxType: "taxable", TaxRate: "8"},
		{Name: "Fee", Quantity: "1", UnitPrice: "3000", TaxType: "non-taxable"},
	})
	require.True(t, estimate.TaxAmount8.Equal(dec("80")))

	po, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "purchase_order"})
	require.NoError(t, err)

	assert.Equal(t, "PO-202403-0001", po.OrderNumber)
	assert.True(t, po.TaxAmount8.IsZero())
	assert.True(t, po.TaxAmount10.Equal(dec("400")))
	assert.True(t, po.TotalAmount.Equal(dec("4400")))
	for _, item := range po.Items {
		assert.Equal(t, taxdomain.ItemTaxable, item.TaxType)
		assert.True(t, item.TaxRate.Equal(taxdomain.Rate10))
	}
}

func TestDerive_ManyToOneTargetsAllowRepeats(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	first, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "delivery_note"})
	require.NoError(t, err)
	second, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "delivery-note"})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-001", first.DeliveryNoteNumber)
	assert.Equal(t, "2024-03-002", second.DeliveryNoteNumber)
}

func TestDerive_RejectsInvalidSourceAndTarget(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	invoice := f.create(t, documentdomain.TypeInvoice, scenarioItems())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	_, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: invoice.ID, TargetType: "delivery_note"})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidDerivationSource)

	_, err = f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "estimate"})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidDerivationTarget)
}

func TestUpdateItems_RecomputesTotalsAndKeepsNumber(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	doc := f.create(t, documentdomain.TypeOrderConfirmation, scenarioItems())

	updated, err := f.svc.UpdateItems(context.Background(), documentdomain.UpdateItemsRequest{
		ID: doc.ID,
		Items: []taxdomain.LineItemInput{
			{Name: "Support", Quantity: "1", UnitPrice: "3333", TaxType: "taxable", TaxRate: "10"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, doc.ConfirmationNumber, updated.ConfirmationNumber)
	assert.True(t, updated.Subtotal.Equal(dec("3333")))
	assert.True(t, updated.TaxAmount10.Equal(dec("333")))
	assert.True(t, updated.TotalAmount.Equal(dec("3666")))

	stored, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.TotalAmount.Equal(dec("3666")))
}

func TestUpdateStatus_Transitions(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	invoice := f.create(t, documentdomain.TypeInvoice, scenarioItems())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	for _, status := range []string{"issued", "sent", "paid"} {
		resp, err := f.svc.UpdateStatus(context.Background(), documentdomain.UpdateStatusRequest{ID: invoice.ID, Status: status})
		require.NoError(t, err)
		assert.Equal(t, documentdomain.Status(status), resp.Status)
		assert.Equal(t, invoice.InvoiceNumber, resp.InvoiceNumber)
	}

	_, err := f.svc.UpdateStatus(context.Background(), documentdomain.UpdateStatusRequest{ID: invoice.ID, Status: "draft"})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(context.Background(), documentdomain.UpdateStatusRequest{ID: estimate.ID, Status: "paid"})
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTransition)

	_, err = f.svc.UpdateItems(context.Background(), documentdomain.UpdateItemsRequest{ID: invoice.ID, Items: scenarioItems()})
	assert.ErrorIs(t, err, documentdomain.ErrDocumentLocked)
}

func TestDelete_RetiresNumber(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	doc := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	require.NoError(t, f.svc.Delete(context.Background(), doc.ID))

	_, err := f.svc.Get(context.Background(), doc.ID)
	assert.ErrorIs(t, err, documentdomain.ErrNotFound)
	assert.Equal(t, int64(0), f.count(t, &documentdomain.Item{}, "1 = 1"))
	assert.ErrorIs(t, f.svc.Delete(context.Background(), doc.ID), documentdomain.ErrNotFound)

	next := f.create(t, documentdomain.TypeEstimate, scenarioItems())
	assert.Equal(t, "2024-03-002", next.EstimateNumber)
}

func TestDelete_DerivedInvoiceFreesSourceForNewInvoice(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	first, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), first.ID))

	estimateID, err := snowflake.ParseString(estimate.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.count(t, &documentdomain.Derivation{}, "source_document_id = ?", estimateID))

	second, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-0001", first.InvoiceNumber)
	assert.Equal(t, "INV-202403-0002", second.InvoiceNumber)

	stored, err := f.svc.Get(context.Background(), estimate.ID)
	require.NoError(t, err)
	require.Len(t, stored.Derivations, 1)
	assert.Equal(t, second.ID, stored.Derivations[0].TargetDocumentID)
}

func TestDelete_SourceRemovesItsDerivationLinks(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())

	invoice, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), estimate.ID))

	assert.Equal(t, int64(0), f.count(t, &documentdomain.Derivation{}, "1 = 1"))
	_, err = f.svc.Get(context.Background(), invoice.ID)
	assert.NoError(t, err)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	for i := 0; i < 3; i++ {
		f.create(t, documentdomain.TypeEstimate, scenarioItems())
	}
	f.create(t, documentdomain.TypeInvoice, scenarioItems())

	page, err := f.svc.List(context.Background(), documentdomain.ListRequest{DocumentType: "estimate", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2024-03-003", page.Documents[0].EstimateNumber)

	rest, err := f.svc.List(context.Background(), documentdomain.ListRequest{DocumentType: "estimate", PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Documents, 1)
	assert.False(t, rest.HasMore)
	assert.Equal(t, "2024-03-001", rest.Documents[0].EstimateNumber)

	_, err = f.svc.List(context.Background(), documentdomain.ListRequest{Period: "March"})
	var verr *taxdomain.ValidationErrors
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.List(context.Background(), documentdomain.ListRequest{PageToken: "not-a-token"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestResponse_UsesTypeSpecificNumberKeyAndDecimalStrings(t *testing.T) {
	f := newFixture(t, config.DefaultSettings())
	estimate := f.create(t, documentdomain.TypeEstimate, scenarioItems())
	invoice, err := f.svc.Derive(context.Background(), documentdomain.DeriveRequest{SourceID: estimate.ID, TargetType: "invoice"})
	require.NoError(t, err)

	raw, err := json.Marshal(invoice)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "INV-202403-0001", body["invoiceNumber"])
	assert.NotContains(t, body, "estimateNumber")
	assert.Equal(t, "13000", body["subtotal"])
	assert.Equal(t, "1300", body["taxAmount10"])
	assert.Equal(t, "14300", body["totalAmount"])
}

func TestEndOfFollowingMonth(t *testing.T) {
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{in: time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), want: time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{in: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), want: time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)},
		{in: time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC), want: time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EndOfFollowingMonth(tc.in))
	}
}
