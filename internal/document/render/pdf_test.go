package render

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	due := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	unit := "pcs"
	doc := documentdomain.Response{
		DocumentType:     documentdomain.TypeInvoice,
		InvoiceNumber:    "INV-202403-0001",
		CounterpartyName: "Acme",
		Honorific:        "Ltd.",
		IssueDate:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		DueDate:          &due,
		TaxType:          taxdomain.TaxModeExclusive,
		MonetaryTotals: taxdomain.MonetaryTotals{
			Subtotal:    decimal.NewFromInt(13000),
			TaxAmount:   decimal.NewFromInt(1000),
			TaxAmount8:  decimal.Zero,
			TaxAmount10: decimal.NewFromInt(1000),
			TotalAmount: decimal.NewFromInt(14000),
		},
		Items: []taxdomain.LineItem{
			{Name: "Consulting", Quantity: decimal.NewFromInt(1), Unit: &unit, UnitPrice: decimal.NewFromInt(10000), TaxType: taxdomain.ItemTaxable, TaxRate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(10000)},
			{Name: "Stamp fee", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(3000), TaxType: taxdomain.ItemNonTaxable, Amount: decimal.NewFromInt(3000)},
		},
	}

	out, err := New().Render(context.Background(), doc)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Render(ctx, documentdomain.Response{DocumentType: documentdomain.TypeEstimate})

	require.ErrorIs(t, err, context.Canceled)
}

func TestFormatYen(t *testing.T) {
	cases := map[string]string{
		"0":        "JPY 0",
		"999":      "JPY 999",
		"1000":     "JPY 1,000",
		"14000":    "JPY 14,000",
		"1234567":  "JPY 1,234,567",
		"-3300":    "-JPY 3,300",
		"1000.4":   "JPY 1,000",
		"99999999": "JPY 99,999,999",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatYen(decimal.RequireFromString(in)), in)
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Delivery Note", Title(documentdomain.TypeDeliveryNote))
	assert.Equal(t, "Purchase Order", Title(documentdomain.TypePurchaseOrder))
}
