package domain

import "errors"

var (
	ErrNotFound                = errors.New("document_not_found")
	ErrInvalidID               = errors.New("invalid_document_id")
	ErrInvalidDocumentType     = errors.New("invalid_document_type")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrInvalidTransition       = errors.New("invalid_status_transition")
	ErrDocumentLocked          = errors.New("document_locked")
	ErrInvalidCounterparty     = errors.New("invalid_counterparty")
	ErrInvalidDerivationSource = errors.New("invalid_derivation_source")
	ErrInvalidDerivationTarget = errors.New("invalid_derivation_target")
	ErrDerivationConflict      = errors.New("derivation_conflict")
)
