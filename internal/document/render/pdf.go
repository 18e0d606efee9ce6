// Package render prints documents to PDF.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
)

const dateLayout = "2006-01-02"

type Renderer interface {
	Render(ctx context.Context, doc documentdomain.Response) ([]byte, error)
}

type PDFRenderer struct{}

func New() Renderer {
	return &PDFRenderer{}
}

func (p *PDFRenderer) Render(ctx context.Context, doc documentdomain.Response) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, Title(doc.DocumentType), props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	meta := []string{"No. " + doc.Number(), "Issue date: " + formatDate(doc.IssueDate)}
	if doc.DueDate != nil {
		meta = append(meta, "Due date: "+formatDate(*doc.DueDate))
	}
	if doc.DeliveryDate != nil {
		meta = append(meta, "Delivery date: "+formatDate(*doc.DeliveryDate))
	}
	if doc.ValidUntil != nil {
		meta = append(meta, "Valid until: "+formatDate(*doc.ValidUntil))
	}
	metaCol := col.New(6)
	for i, line := range meta {
		metaCol.Add(text.New(line, props.Text{Top: float64(i * 4), Align: align.Right}))
	}

	m.AddRow(float64(len(meta)*4+4),
		col.New(6).Add(
			text.New(counterparty(doc), props.Text{Size: 12, Style: fontstyle.Bold}),
			text.New(doc.Subject, props.Text{Top: 6}),
		),
		metaCol,
	)

	m.AddRow(15,
		text.NewCol(12, "Total: "+formatYen(doc.TotalAmount), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Tax", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range doc.Items {
		m.AddRow(8,
			text.NewCol(5, item.Name, props.Text{Size: 9}),
			text.NewCol(1, quantity(item), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatYen(item.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, taxLabel(item), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, formatYen(item.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct {
		label string
		value decimal.Decimal
		bold  bool
	}{
		{"Subtotal", doc.Subtotal, false},
		{"Tax (8%)", doc.TaxAmount8, false},
		{"Tax (10%)", doc.TaxAmount10, false},
		{"Tax total", doc.TaxAmount, false},
		{"Total", doc.TotalAmount, true},
	}
	for _, row := range totals {
		style := fontstyle.Normal
		if row.bold {
			style = fontstyle.Bold
		}
		m.AddRow(7,
			col.New(8),
			text.NewCol(2, row.label, props.Text{Size: 9, Style: style}),
			text.NewCol(2, formatYen(row.value), props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	if doc.TaxType == taxdomain.TaxModeInclusive {
		m.AddRow(8, text.NewCol(12, "Prices include consumption tax.", props.Text{Size: 8, Top: 2}))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render %s %s: %w", doc.DocumentType, doc.Number(), err)
	}
	return out.GetBytes(), nil
}

// Title is the printed heading for a document type.
func Title(t documentdomain.DocumentType) string {
	switch t {
	case documentdomain.TypeEstimate:
		return "Estimate"
	case documentdomain.TypePurchaseOrder:
		return "Purchase Order"
	case documentdomain.TypeOrderConfirmation:
		return "Order Confirmation"
	case documentdomain.TypeDeliveryNote:
		return "Delivery Note"
	case documentdomain.TypeInvoice:
		return "Invoice"
	default:
		return string(t)
	}
}

func counterparty(doc documentdomain.Response) string {
	if doc.Honorific == "" {
		return doc.CounterpartyName
	}
	return doc.CounterpartyName + " " + doc.Honorific
}

func quantity(item taxdomain.LineItem) string {
	if item.Unit != nil && *item.Unit != "" {
		return item.Quantity.String() + " " + *item.Unit
	}
	return item.Quantity.String()
}

func taxLabel(item taxdomain.LineItem) string {
	switch item.TaxType {
	case taxdomain.ItemNonTaxable:
		return "-"
	case taxdomain.ItemTaxIncluded:
		return item.TaxRate.String() + "% incl."
	default:
		return item.TaxRate.String() + "%"
	}
}

// formatYen prints whole yen with thousands separators.
func formatYen(d decimal.Decimal) string {
	s := d.StringFixed(0)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-JPY " + string(out)
	}
	return "JPY " + string(out)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
