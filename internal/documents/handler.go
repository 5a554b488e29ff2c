package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analyses/:id/documents", h.list)
	rg.GET("/analyses/:id/documents/:docId", h.get)
}

func (h *Handler) list(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)

	docs, err := h.Svc.List(c.Request.Context(), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list documents", nil)
		}
		return
	}
	if docs == nil {
		docs = []ParsedDocument{}
	}
	respond.OK(c, docs)
}

func (h *Handler) get(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)
	c.Set("documentId", c.Param("docId"))

	doc, err := h.Svc.Get(c.Request.Context(), analysisID, c.Param("docId"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document", nil)
		}
		return
	}
	respond.OK(c, doc)
}
