package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"github.com/smallbiznis/docflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Index   *int   `json:"index,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if vErr := asTaxValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fromTaxValidationErrors(vErr),
		}
	}

	var rateErr *taxdomain.UnsupportedRateError
	if errors.As(err, &rateErr) {
		index := rateErr.Index
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Index:   &index,
					Field:   "taxRate",
					Code:    "unsupported_tax_rate",
					Message: rateErr.Error(),
				},
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, documentdomain.ErrDerivationConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, sequencedomain.ErrAllocationConflict):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable, retry the request",
		}
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "timeout",
			Message: "request canceled",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func conflictMessage(err error) string {
	if errors.Is(err, documentdomain.ErrDerivationConflict) {
		return "target document already derived from source"
	}
	return "conflict"
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func asTaxValidationErrors(err error) *taxdomain.ValidationErrors {
	var vErr *taxdomain.ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func fromTaxValidationErrors(v *taxdomain.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(v.Errors))
	for _, e := range v.Errors {
		item := ValidationError{
			Field:   e.Field,
			Code:    e.Code,
			Message: e.Message,
		}
		if e.Index >= 0 {
			index := e.Index
			item.Index = &index
		}
		out = append(out, item)
	}
	return out
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, documentdomain.ErrInvalidID),
		errors.Is(err, documentdomain.ErrInvalidDocumentType),
		errors.Is(err, documentdomain.ErrInvalidStatus),
		errors.Is(err, documentdomain.ErrInvalidTransition),
		errors.Is(err, documentdomain.ErrDocumentLocked),
		errors.Is(err, documentdomain.ErrInvalidCounterparty),
		errors.Is(err, documentdomain.ErrInvalidDerivationSource),
		errors.Is(err, documentdomain.ErrInvalidDerivationTarget),
		errors.Is(err, taxdomain.ErrInvalidTaxMode),
		errors.Is(err, taxdomain.ErrInvalidTaxRate),
		errors.Is(err, taxdomain.ErrInvalidRoundingType),
		errors.Is(err, taxdomain.ErrInvalidLineItem),
		errors.Is(err, sequencedomain.ErrTemplateMissing),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, documentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, documentdomain.ErrInvalidID):
		return documentdomain.ErrInvalidID.Error()
	case errors.Is(err, documentdomain.ErrInvalidDocumentType):
		return documentdomain.ErrInvalidDocumentType.Error()
	case errors.Is(err, documentdomain.ErrInvalidStatus):
		return documentdomain.ErrInvalidStatus.Error()
	case errors.Is(err, documentdomain.ErrInvalidTransition):
		return documentdomain.ErrInvalidTransition.Error()
	case errors.Is(err, documentdomain.ErrDocumentLocked):
		return documentdomain.ErrDocumentLocked.Error()
	case errors.Is(err, documentdomain.ErrInvalidCounterparty):
		return documentdomain.ErrInvalidCounterparty.Error()
	case errors.Is(err, documentdomain.ErrInvalidDerivationSource):
		return documentdomain.ErrInvalidDerivationSource.Error()
	case errors.Is(err, documentdomain.ErrInvalidDerivationTarget):
		return documentdomain.ErrInvalidDerivationTarget.Error()
	case errors.Is(err, sequencedomain.ErrTemplateMissing):
		return sequencedomain.ErrTemplateMissing.Error()
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return pagination.ErrInvalidPageToken.Error()
	case errors.Is(err, taxdomain.ErrInvalidTaxMode):
		return taxdomain.ErrInvalidTaxMode.Error()
	case errors.Is(err, taxdomain.ErrInvalidTaxRate):
		return taxdomain.ErrInvalidTaxRate.Error()
	case errors.Is(err, taxdomain.ErrInvalidRoundingType):
		return taxdomain.ErrInvalidRoundingType.Error()
	default:
		return taxdomain.ErrInvalidLineItem.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_document_id":
		return "id"
	case "invalid_document_type", "number_template_missing":
		return "documentType"
	case "invalid_status", "invalid_status_transition", "document_locked":
		return "status"
	case "invalid_counterparty":
		return "counterpartyName"
	case "invalid_derivation_source":
		return "sourceId"
	case "invalid_derivation_target":
		return "targetType"
	case "invalid_tax_mode":
		return "tax.taxType"
	case "invalid_tax_rate":
		return "tax.taxRate"
	case "invalid_rounding_type":
		return "tax.roundingType"
	case "invalid_page_token":
		return "page_token"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_status_transition":
		return "status transition not allowed"
	case "document_locked":
		return "document is paid or cancelled"
	case "invalid_counterparty":
		return "counterparty name is required"
	case "invalid_derivation_source":
		return "source document cannot be derived from"
	case "invalid_derivation_target":
		return "target type cannot be derived from this source"
	case "number_template_missing":
		return "no number template configured"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "internal_error"
	}
	return payload.Type, code
}
