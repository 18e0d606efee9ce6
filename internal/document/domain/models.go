package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"gorm.io/datatypes"
)

// DocumentType is one of the five issued document kinds.
type DocumentType string

const (
	TypeEstimate          DocumentType = "estimate"
	TypePurchaseOrder     DocumentType = "purchase_order"
	TypeOrderConfirmation DocumentType = "order_confirmation"
	TypeDeliveryNote      DocumentType = "delivery_note"
	TypeInvoice           DocumentType = "invoice"
)

// DocumentTypes lists every supported type in display order.
var DocumentTypes = []DocumentType{
	TypeEstimate,
	TypePurchaseOrder,
	TypeOrderConfirmation,
	TypeDeliveryNote,
	TypeInvoice,
}

// ParseDocumentType accepts the canonical value and the hyphenated form.
func ParseDocumentType(raw string) (DocumentType, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	for _, t := range DocumentTypes {
		if string(t) == value {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDocumentType, raw)
}

// NumberField is the JSON key carrying the document number for this type.
func (t DocumentType) NumberField() string {
	switch t {
	case TypeEstimate:
		return "estimateNumber"
	case TypePurchaseOrder:
		return "orderNumber"
	case TypeOrderConfirmation:
		return "confirmationNumber"
	case TypeDeliveryNote:
		return "deliveryNoteNumber"
	case TypeInvoice:
		return "invoiceNumber"
	default:
		return "documentNumber"
	}
}

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusDraft:  {StatusIssued, StatusCancelled},
	StatusIssued: {StatusSent, StatusPaid, StatusCancelled},
	StatusSent:   {StatusPaid, StatusCancelled},
}

// CanTransition reports whether a document of type t may move from s to next.
func (s Status) CanTransition(t DocumentType, next Status) bool {
	if next == StatusPaid && t != TypeInvoice {
		return false
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusIssued, StatusSent, StatusPaid, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Document is the persisted header of any document type.
type Document struct {
	ID               snowflake.ID           `gorm:"primaryKey"`
	DocumentType     DocumentType           `gorm:"type:varchar(32);not null;uniqueIndex:ux_documents_type_number,priority:1"`
	DocumentNumber   string                 `gorm:"type:varchar(64);not null;uniqueIndex:ux_documents_type_number,priority:2"`
	Period           string                 `gorm:"type:varchar(7);not null;index"`
	Sequence         int64                  `gorm:"not null"`
	Status           Status                 `gorm:"type:varchar(16);not null;default:draft"`
	CounterpartyName string                 `gorm:"type:text;not null"`
	Honorific        string                 `gorm:"type:varchar(16)"`
	Subject          string                 `gorm:"type:text"`
	IssueDate        time.Time              `gorm:"not null"`
	DueDate          *time.Time             `gorm:""`
	DeliveryDate     *time.Time             `gorm:""`
	ValidUntil       *time.Time             `gorm:""`
	TaxType          taxdomain.TaxMode      `gorm:"type:varchar(16);not null"`
	TaxRate          decimal.Decimal        `gorm:"type:numeric(5,2);not null"`
	RoundingType     taxdomain.RoundingType `gorm:"type:varchar(8);not null"`
	Subtotal         decimal.Decimal        `gorm:"type:numeric(18,2);not null"`
	TaxAmount        decimal.Decimal        `gorm:"type:numeric(18,2);not null"`
	TaxAmount8       decimal.Decimal        `gorm:"column:tax_amount8;type:numeric(18,2);not null"`
	TaxAmount10      decimal.Decimal        `gorm:"column:tax_amount10;type:numeric(18,2);not null"`
	TotalAmount      decimal.Decimal        `gorm:"type:numeric(18,2);not null"`
	SourceDocumentID *snowflake.ID          `gorm:"index"`
	Metadata         datatypes.JSONMap
	Items            []Item    `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (Document) TableName() string { return "documents" }

// TaxConfiguration returns the document-level tax setting.
func (d *Document) TaxConfiguration() taxdomain.TaxConfiguration {
	return taxdomain.TaxConfiguration{
		TaxType:      d.TaxType,
		TaxRate:      d.TaxRate,
		RoundingType: d.RoundingType,
	}
}

// Totals returns the persisted money snapshot.
func (d *Document) Totals() taxdomain.MonetaryTotals {
	return taxdomain.MonetaryTotals{
		Subtotal:    d.Subtotal,
		TaxAmount:   d.TaxAmount,
		TaxAmount8:  d.TaxAmount8,
		TaxAmount10: d.TaxAmount10,
		TotalAmount: d.TotalAmount,
	}
}

// SetTotals overwrites every money column from t.
func (d *Document) SetTotals(t taxdomain.MonetaryTotals) {
	d.Subtotal = t.Subtotal
	d.TaxAmount = t.TaxAmount
	d.TaxAmount8 = t.TaxAmount8
	d.TaxAmount10 = t.TaxAmount10
	d.TotalAmount = t.TotalAmount
}

// LineItems converts the persisted rows back into calculator input.
func (d *Document) LineItems() []taxdomain.LineItem {
	out := make([]taxdomain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		out = append(out, item.LineItem())
	}
	return out
}

// Item is one persisted line item. Display order is unique within a document.
type Item struct {
	ID           snowflake.ID          `gorm:"primaryKey"`
	DocumentID   snowflake.ID          `gorm:"not null;uniqueIndex:ux_document_items_order,priority:1"`
	DisplayOrder int                   `gorm:"not null;uniqueIndex:ux_document_items_order,priority:2"`
	Name         string                `gorm:"type:text;not null"`
	Quantity     decimal.Decimal       `gorm:"type:numeric(18,4);not null"`
	Unit         *string               `gorm:"type:varchar(32)"`
	UnitPrice    decimal.Decimal       `gorm:"type:numeric(18,2);not null"`
	TaxType      taxdomain.ItemTaxType `gorm:"type:varchar(16);not null"`
	TaxRate      decimal.Decimal       `gorm:"type:numeric(5,2);not null"`
	Amount       decimal.Decimal       `gorm:"type:numeric(18,2);not null"`
	Remarks      *string               `gorm:"type:text"`
	CreatedAt    time.Time             `gorm:"not null"`
}

func (Item) TableName() string { return "document_items" }

func (i Item) LineItem() taxdomain.LineItem {
	return taxdomain.LineItem{
		Name:         i.Name,
		Quantity:     i.Quantity,
		Unit:         i.Unit,
		UnitPrice:    i.UnitPrice,
		TaxType:      i.TaxType,
		TaxRate:      i.TaxRate,
		Amount:       i.Amount,
		Remarks:      i.Remarks,
		DisplayOrder: i.DisplayOrder,
	}
}

// NewItem builds a row for documentID from a parsed line item.
func NewItem(id, documentID snowflake.ID, li taxdomain.LineItem) Item {
	return Item{
		ID:           id,
		DocumentID:   documentID,
		DisplayOrder: li.DisplayOrder,
		Name:         li.Name,
		Quantity:     li.Quantity,
		Unit:         li.Unit,
		UnitPrice:    li.UnitPrice,
		TaxType:      li.TaxType,
		TaxRate:      li.TaxRate,
		Amount:       li.Amount,
		Remarks:      li.Remarks,
	}
}

// Derivation records that a target document was derived from a source.
// (source_document_id, target_type) is unique; rows exist only for
// one-to-one targets.
type Derivation struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	SourceDocumentID snowflake.ID `gorm:"not null;uniqueIndex:ux_document_derivations_source_target,priority:1"`
	TargetType       DocumentType `gorm:"type:varchar(32);not null;uniqueIndex:ux_document_derivations_source_target,priority:2"`
	TargetDocumentID snowflake.ID `gorm:"not null"`
	CreatedAt        time.Time    `gorm:"not null"`
}

func (Derivation) TableName() string { return "document_derivations" }

// IsOneToOne reports whether at most one document of target may be derived
// from a single source.
func IsOneToOne(target DocumentType) bool {
	return target == TypeInvoice
}

// Derivable reports whether target may be derived from an estimate.
func Derivable(target DocumentType) bool {
	switch target {
	case TypeInvoice, TypePurchaseOrder, TypeOrderConfirmation, TypeDeliveryNote:
		return true
	default:
		return false
	}
}
