package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-flow/internal/application/service"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/flow"
	"github.com/garyjia/approval-flow/internal/engine"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	templateService service.TemplateService
	caseService     service.CaseService
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	templateService service.TemplateService,
	caseService service.CaseService,
	logger Logger,
) *Handlers {
	return &Handlers{
		templateService: templateService,
		caseService:     caseService,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CreateTemplateRequest is the body for POST /api/v1/templates
type CreateTemplateRequest struct {
	Code       string          `json:"code" binding:"required"`
	Name       string          `json:"name" binding:"required"`
	FormSchema json.RawMessage `json:"form_schema"`
	FlowConfig json.RawMessage `json:"flow_config" binding:"required"`
}

// UpdateTemplateFlowRequest is the body for PUT /api/v1/templates/:code/flow
type UpdateTemplateFlowRequest struct {
	FlowConfig json.RawMessage `json:"flow_config" binding:"required"`
}

// CreateInstanceRequest is the body for POST /api/v1/instances
type CreateInstanceRequest struct {
	TemplateCode  string                 `json:"template_code" binding:"required"`
	Initiator     string                 `json:"initiator" binding:"required"`
	InitiatorDept string                 `json:"initiator_dept"`
	BusinessType  string                 `json:"business_type"`
	BusinessID    string                 `json:"business_id"`
	FormData      map[string]interface{} `json:"form_data"`
}

// ApplyActionRequest is the body for POST /api/v1/instances/:id/actions
type ApplyActionRequest struct {
	Action   string `json:"action" binding:"required"`
	Actor    string `json:"actor" binding:"required"`
	Comment  string `json:"comment"`
	Target   string `json:"target"`
	Content  string `json:"content"`
	Elevated bool   `json:"elevated"`
}

// ListQuery represents pagination query parameters
type ListQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q *ListQuery) normalize() {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	tpl, err := h.templateService.Create(c.Request.Context(), req.Code, req.Name, req.FormSchema, req.FlowConfig)
	if err != nil {
		h.fail(c, "create template", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    tpl,
	})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	q.normalize()

	templates, err := h.templateService.List(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		h.fail(c, "list templates", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    templates,
	})
}

// GetTemplate handles GET /api/v1/templates/:code
func (h *Handlers) GetTemplate(c *gin.Context) {
	code := c.Param("code")

	tpl, err := h.templateService.Get(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("Failed to get template", "code", code, "error", err)
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "template not found",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    tpl,
	})
}

// UpdateTemplateFlow handles PUT /api/v1/templates/:code/flow
func (h *Handlers) UpdateTemplateFlow(c *gin.Context) {
	code := c.Param("code")

	var req UpdateTemplateFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	tpl, err := h.templateService.UpdateFlow(c.Request.Context(), code, req.FlowConfig)
	if err != nil {
		h.fail(c, "update template flow", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    tpl,
	})
}

// PublishTemplate handles POST /api/v1/templates/:code/publish
func (h *Handlers) PublishTemplate(c *gin.Context) {
	code := c.Param("code")

	if err := h.templateService.Publish(c.Request.Context(), code); err != nil {
		h.fail(c, "publish template", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// DisableTemplate handles POST /api/v1/templates/:code/disable
func (h *Handlers) DisableTemplate(c *gin.Context) {
	code := c.Param("code")

	if err := h.templateService.Disable(c.Request.Context(), code); err != nil {
		h.fail(c, "disable template", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// CreateInstance handles POST /api/v1/instances
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	initiator := engine.Initiator{
		UserID:     req.Initiator,
		Department: req.InitiatorDept,
	}

	instance, err := h.caseService.Create(c.Request.Context(), req.TemplateCode, initiator, req.BusinessType, req.BusinessID, req.FormData)
	if err != nil {
		h.fail(c, "create instance", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    instance,
	})
}

// ListInstances handles GET /api/v1/instances?initiator=...
func (h *Handlers) ListInstances(c *gin.Context) {
	initiator := c.Query("initiator")
	if initiator == "" {
		h.badRequest(c, "initiator query parameter is required", nil)
		return
	}

	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	q.normalize()

	instances, err := h.caseService.ListByInitiator(c.Request.Context(), initiator, q.Limit, q.Offset)
	if err != nil {
		h.fail(c, "list instances", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    instances,
	})
}

// ListStalledNodes handles GET /api/v1/instances/stalled
func (h *Handlers) ListStalledNodes(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	q.normalize()

	nodes, err := h.caseService.ListStalled(c.Request.Context(), q.Limit)
	if err != nil {
		h.fail(c, "list stalled nodes", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nodes,
	})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id := c.Param("id")

	instance, err := h.caseService.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    instance,
	})
}

// ApplyAction handles POST /api/v1/instances/:id/actions
func (h *Handlers) ApplyAction(c *gin.Context) {
	id := c.Param("id")

	var req ApplyActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	action := entity.Action(strings.ToUpper(req.Action))
	payload := engine.Payload{
		Comment:  req.Comment,
		Target:   req.Target,
		Content:  req.Content,
		Elevated: req.Elevated,
	}

	result, err := h.caseService.Apply(c.Request.Context(), id, action, req.Actor, payload)
	if err != nil {
		h.fail(c, "apply action", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result.Instance,
	})
}

// ListComments handles GET /api/v1/instances/:id/comments
func (h *Handlers) ListComments(c *gin.Context) {
	id := c.Param("id")

	comments, err := h.caseService.Comments(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list comments", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    comments,
	})
}

// ListFollowers handles GET /api/v1/instances/:id/followers
func (h *Handlers) ListFollowers(c *gin.Context) {
	id := c.Param("id")

	followers, err := h.caseService.Followers(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list followers", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    followers,
	})
}

// ListHistory handles GET /api/v1/instances/:id/history
func (h *Handlers) ListHistory(c *gin.Context) {
	id := c.Param("id")

	history, err := h.caseService.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list history", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    history,
	})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		h.logger.Error("Bad request", "error", err)
	}
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
	})
}

// fail maps domain and engine errors to HTTP status codes
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInstanceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrStalledNode),
		errors.Is(err, flow.ErrTemplateNotActive):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidTransferTarget),
		errors.Is(err, flow.ErrTemplateMalformed):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "error", err)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
	})
}
