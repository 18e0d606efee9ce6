package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
)

type CreateRequest struct {
	DocumentType     string                          `json:"documentType"`
	CounterpartyName string                          `json:"counterpartyName"`
	Honorific        string                          `json:"honorific,omitempty"`
	Subject          string                          `json:"subject,omitempty"`
	IssueDate        *time.Time                      `json:"issueDate,omitempty"`
	DueDate          *time.Time                      `json:"dueDate,omitempty"`
	DeliveryDate     *time.Time                      `json:"deliveryDate,omitempty"`
	ValidUntil       *time.Time                      `json:"validUntil,omitempty"`
	Tax              taxdomain.TaxConfigurationInput `json:"tax"`
	Items            []taxdomain.LineItemInput       `json:"items"`
	Metadata         map[string]any                  `json:"metadata,omitempty"`
}

type DeriveRequest struct {
	SourceID   string `json:"-"`
	TargetType string `json:"targetType"`
}

type UpdateItemsRequest struct {
	ID    string                    `json:"-"`
	Items []taxdomain.LineItemInput `json:"items"`
}

type UpdateStatusRequest struct {
	ID     string `json:"-"`
	Status string `json:"status"`
}

type ListRequest struct {
	DocumentType string
	Period       string
	Status       string
	PageToken    string
	PageSize     int32
}

type ListFilter struct {
	DocumentType DocumentType
	Period       string
	Status       Status
}

type ListResponse struct {
	pagination.PageInfo
	Documents []Response `json:"documents"`
}

// Response is the JSON view of a document. Exactly one of the number
// fields is set, chosen by DocumentType.NumberField.
type Response struct {
	ID                 string                 `json:"id"`
	DocumentType       DocumentType           `json:"documentType"`
	EstimateNumber     string                 `json:"estimateNumber,omitempty"`
	OrderNumber        string                 `json:"orderNumber,omitempty"`
	ConfirmationNumber string                 `json:"confirmationNumber,omitempty"`
	DeliveryNoteNumber string                 `json:"deliveryNoteNumber,omitempty"`
	InvoiceNumber      string                 `json:"invoiceNumber,omitempty"`
	Period             string                 `json:"yearMonth"`
	Sequence           int64                  `json:"sequence"`
	Status             Status                 `json:"status"`
	CounterpartyName   string                 `json:"counterpartyName"`
	Honorific          string                 `json:"honorific,omitempty"`
	Subject            string                 `json:"subject,omitempty"`
	IssueDate          time.Time              `json:"issueDate"`
	DueDate            *time.Time             `json:"dueDate,omitempty"`
	DeliveryDate       *time.Time             `json:"deliveryDate,omitempty"`
	ValidUntil         *time.Time             `json:"validUntil,omitempty"`
	TaxType            taxdomain.TaxMode      `json:"taxType"`
	TaxRate            decimal.Decimal        `json:"taxRate"`
	RoundingType       taxdomain.RoundingType `json:"roundingType"`
	taxdomain.MonetaryTotals
	SourceDocumentID string               `json:"sourceDocumentId,omitempty"`
	Items            []taxdomain.LineItem `json:"items"`
	Derivations      []DerivationResponse `json:"derivations,omitempty"`
	Metadata         map[string]any       `json:"metadata,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

type DerivationResponse struct {
	TargetType       DocumentType `json:"targetType"`
	TargetDocumentID string       `json:"targetDocumentId"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Number returns the document number regardless of which field carries it.
func (r Response) Number() string {
	switch r.DocumentType {
	case TypeEstimate:
		return r.EstimateNumber
	case TypePurchaseOrder:
		return r.OrderNumber
	case TypeOrderConfirmation:
		return r.ConfirmationNumber
	case TypeDeliveryNote:
		return r.DeliveryNoteNumber
	case TypeInvoice:
		return r.InvoiceNumber
	default:
		return ""
	}
}

// NewResponse builds the JSON view of doc.
func NewResponse(doc *Document, derivations []Derivation) Response {
	resp := Response{
		ID:               doc.ID.String(),
		DocumentType:     doc.DocumentType,
		Period:           doc.Period,
		Sequence:         doc.Sequence,
		Status:           doc.Status,
		CounterpartyName: doc.CounterpartyName,
		Honorific:        doc.Honorific,
		Subject:          doc.Subject,
		IssueDate:        doc.IssueDate,
		DueDate:          doc.DueDate,
		DeliveryDate:     doc.DeliveryDate,
		ValidUntil:       doc.ValidUntil,
		TaxType:          doc.TaxType,
		TaxRate:          doc.TaxRate,
		RoundingType:     doc.RoundingType,
		MonetaryTotals:   doc.Totals(),
		Items:            doc.LineItems(),
		Metadata:         doc.Metadata,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.SourceDocumentID != nil {
		resp.SourceDocumentID = doc.SourceDocumentID.String()
	}

	switch doc.DocumentType {
	case TypeEstimate:
		resp.EstimateNumber = doc.DocumentNumber
	case TypePurchaseOrder:
		resp.OrderNumber = doc.DocumentNumber
	case TypeOrderConfirmation:
		resp.ConfirmationNumber = doc.DocumentNumber
	case TypeDeliveryNote:
		resp.DeliveryNoteNumber = doc.DocumentNumber
	case TypeInvoice:
		resp.InvoiceNumber = doc.DocumentNumber
	}

	for _, d := range derivations {
		resp.Derivations = append(resp.Derivations, DerivationResponse{
			TargetType:       d.TargetType,
			TargetDocumentID: d.TargetDocumentID.String(),
			CreatedAt:        d.CreatedAt,
		})
	}
	return resp
}

// Service is the document derivation engine exposed to the HTTP surface.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Response, error)
	Duplicate(ctx context.Context, id string) (Response, error)
	Derive(ctx context.Context, req DeriveRequest) (Response, error)
	UpdateItems(ctx context.Context, req UpdateItemsRequest) (Response, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (Response, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}
