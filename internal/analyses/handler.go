package analyses

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/shared/server/respond"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// ModelCatalog lists models offered to the UI.
type ModelCatalog interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
	ListAllModels(ctx context.Context, query string) ([]llm.ModelInfo, error)
}

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc            *Service
	Models         ModelCatalog
	MaxUploadBytes int64
	limiter        *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, models ModelCatalog, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{
		Svc:            svc,
		Models:         models,
		MaxUploadBytes: int64(maxUploadMB) << 20,
		limiter:        newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches analysis and model routes to the router group.
// Extra handlers run before the start handler (rate limiting).
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, startMiddleware ...gin.HandlerFunc) {
	rg.POST("/analyses", append(startMiddleware, h.startAnalysis)...)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.GET("/analyses/:id/events", h.events)
	rg.GET("/analyses/:id/thinking", h.thinking)
	rg.POST("/analyses/:id/cancel", h.cancel)
	if h.Models != nil {
		rg.GET("/models", h.listModels)
		rg.GET("/models/search", h.searchModels)
	}
}

func (h *Handler) startAnalysis(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form expected", nil)
		return
	}
	headers := append(form.File["files"], form.File["files[]"]...)
	if len(headers) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", ErrNoFiles.Error(), []map[string]string{
			{"field": "files", "issue": "required"},
		})
		return
	}

	in := StartInput{
		Model:              c.PostForm("model"),
		Thinking:           c.PostForm("thinking"),
		AnalysisType:       c.PostForm("analysis_type"),
		CustomInstructions: c.PostForm("custom_instructions"),
	}
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable upload", nil)
			return
		}
		opened = append(opened, f)
		in.Files = append(in.Files, FileInput{Name: fh.Filename, Reader: f})
	}

	a, err := h.Svc.Start(requestContext(c), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoFiles):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}
	c.Set("analysisId", a.ID)
	respond.Accepted(c, gin.H{"id": a.ID})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)

	a, err := h.Svc.Get(c.Request.Context(), analysisID)
	if err != nil {
		h.notFoundOr(c, err, "failed to fetch analysis")
		return
	}
	respond.OK(c, a)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	if limit < 0 {
		limit = 0
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}
	resp := make([]gin.H, 0, len(list))
	for _, a := range list {
		item := gin.H{
			"id":            a.ID,
			"status":        a.Status,
			"model":         a.Model,
			"analysis_type": a.AnalysisType,
			"files":         len(a.Uploads),
			"created_at":    a.CreatedAt,
		}
		if a.Report != nil && a.Report.ProjectTitle != nil {
			item["project_title"] = *a.Report.ProjectTitle
		}
		resp = append(resp, item)
	}
	respond.OK(c, resp)
}

func (h *Handler) events(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)
	if !h.limiter.Allow(c.ClientIP(), analysisID) {
		c.Header("Retry-After", strconv.Itoa(h.limiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", ErrTooManyEvents.Error(), nil)
		return
	}
	events, err := h.Svc.Events(c.Request.Context(), analysisID, queryInt(c, "since", 0))
	if err != nil {
		h.notFoundOr(c, err, "failed to fetch events")
		return
	}
	if events == nil {
		events = []Event{}
	}
	respond.OK(c, events)
}

func (h *Handler) thinking(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)
	events, err := h.Svc.Thinking(c.Request.Context(), analysisID, queryInt(c, "since", 0))
	if err != nil {
		h.notFoundOr(c, err, "failed to fetch thinking")
		return
	}
	respond.OK(c, events)
}

func (h *Handler) cancel(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)
	status, err := h.Svc.Cancel(requestContext(c), analysisID)
	if err != nil {
		if errors.Is(err, ErrFinished) {
			respond.Error(c, http.StatusConflict, "already_finished", err.Error(), nil)
			return
		}
		h.notFoundOr(c, err, "failed to cancel analysis")
		return
	}
	respond.OK(c, gin.H{"id": analysisID, "status": status})
}

func (h *Handler) listModels(c *gin.Context) {
	models, err := h.Models.ListModels(c.Request.Context())
	if err != nil {
		telemetry.Warn("models.list_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to list models", nil)
		return
	}
	respond.OK(c, models)
}

func (h *Handler) searchModels(c *gin.Context) {
	models, err := h.Models.ListAllModels(c.Request.Context(), c.Query("q"))
	if err != nil {
		telemetry.Warn("models.search_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to search models", nil)
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	respond.OK(c, models)
}

func (h *Handler) notFoundOr(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

// requestContext carries the request ID set by the middleware into the
// service layer.
func requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), c.GetString("requestId"))
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
