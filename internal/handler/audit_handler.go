package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	group := router.Group("/api/audit-logs", auth.Authenticate(), auth.RequireRole(model.RoleManager))
	{
		group.GET("", h.GetAuditLogs)
		group.GET("/entity/:id", h.GetEntityTrail)
	}
}

// GetAuditLogs retrieves paginated audit records with actors pre-loaded
// @Summary      Get audit logs
// @Description  Retrieves the audit log newest first
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=[]service.AuditEntryResponse}
// @Failure      500    {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, logs, total, p.Page, p.Limit))
}

// GetEntityTrail returns every audit entry touching one entity
// @Summary      Get entity audit trail
// @Description  Retrieves the full trail for one entity id, oldest first, e.g. an override request's lifecycle
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Entity ID"
// @Success      200  {object}  response.Response{data=[]service.AuditEntryResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/audit-logs/entity/{id} [get]
func (h *AuditHandler) GetEntityTrail(c *gin.Context) {
	entries, err := h.auditService.GetEntityTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}
