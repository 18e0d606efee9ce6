package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
)

// PeekSequence previews the next number for a type without consuming it.
func (s *Server) PeekSequence(c *gin.Context) {
	docType, err := documentdomain.ParseDocumentType(c.Query("type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("document_type", string(docType))

	path := sequencedomain.PathPrimary
	switch strings.TrimSpace(c.Query("path")) {
	case "", string(sequencedomain.PathPrimary):
	case string(sequencedomain.PathFromEstimate):
		path = sequencedomain.PathFromEstimate
	default:
		AbortWithError(c, newValidationError("path", "invalid_path", "path must be primary or from_estimate"))
		return
	}

	ref, err := parseOptionalDate(c.Query("date"), s.location())
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD or RFC3339"))
		return
	}

	next, err := s.allocator.Peek(c.Request.Context(), sequencedomain.AllocateRequest{
		DocumentType:  docType,
		Path:          path,
		ReferenceDate: ref,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": next})
}

func (s *Server) location() *time.Location {
	if s.settings == nil {
		return time.Local
	}
	return s.settings.Location()
}
