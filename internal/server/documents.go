package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
)

func (s *Server) CreateDocument(c *gin.Context) {
	var req documentdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("document_type", req.DocumentType)

	resp, err := s.docSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("document_number", resp.Number())

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListDocuments(c *gin.Context) {
	pageSize, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	req := documentdomain.ListRequest{
		DocumentType: strings.TrimSpace(c.Query("type")),
		Period:       strings.TrimSpace(c.Query("yearMonth")),
		Status:       strings.TrimSpace(c.Query("status")),
		PageToken:    strings.TrimSpace(c.Query("page_token")),
		PageSize:     pageSize,
	}

	resp, err := s.docSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetDocument(c *gin.Context) {
	resp, err := s.docSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateDocumentItems(c *gin.Context) {
	var req documentdomain.UpdateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.docSvc.UpdateItems(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateDocumentStatus(c *gin.Context) {
	var req documentdomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.docSvc.UpdateStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteDocument(c *gin.Context) {
	if err := s.docSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) DuplicateDocument(c *gin.Context) {
	resp, err := s.docSvc.Duplicate(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("document_type", string(resp.DocumentType))
	c.Set("document_number", resp.Number())

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeriveDocument(c *gin.Context) {
	var req documentdomain.DeriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SourceID = strings.TrimSpace(c.Param("id"))
	c.Set("document_type", req.TargetType)

	resp, err := s.docSvc.Derive(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("document_number", resp.Number())

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RenderDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.docSvc.Get(ctx, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("document_type", string(doc.DocumentType))

	out, err := s.renderer.Render(ctx, doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Number()+".pdf"))
	c.Data(http.StatusOK, "application/pdf", out)
}
