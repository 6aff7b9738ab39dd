package handler

import (
	"net/http"
	"strconv"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type ApprovalHandler struct {
	approvalService service.ApprovalService
	tokenService    service.TokenService
	tierService     service.TierService
}

func NewApprovalHandler(
	approvalService service.ApprovalService,
	tokenService service.TokenService,
	tierService service.TierService,
) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		tokenService:    tokenService,
		tierService:     tierService,
	}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	approvals := router.Group("/api/approvals", auth.Authenticate())
	{
		approvals.POST("", h.CreateOverride)
		approvals.POST("/batch", h.CreateBatchOverride)
		approvals.GET("", h.ListOverrides)
		approvals.GET("/pending", h.ListPending)
		approvals.POST("/redeem", h.RedeemToken)
		approvals.GET("/:id", h.GetOverride)
		approvals.POST("/:id/approve", h.ApproveOverride)
		approvals.POST("/:id/deny", h.DenyOverride)
		approvals.POST("/:id/cancel", h.CancelOverride)
		approvals.GET("/:id/history", h.GetOverrideHistory)
	}

	policies := router.Group("/api/tier-policies", auth.Authenticate())
	{
		policies.GET("", h.ListTierPolicies)
	}
}

// CreateOverride submits a price override for approval
// @Summary      Create override request
// @Description  Submits a price override. The tier is resolved from the frozen prices; tier 1 self-approves immediately.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateOverrideRequest  true  "Create Override Payload"
// @Success      201      {object}  response.Response{data=service.OverrideResponse}
// @Failure      400      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/approvals [post]
func (h *ApprovalHandler) CreateOverride(c *gin.Context) {
	var req service.CreateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.approvalService.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// CreateBatchOverride submits one approval covering several line items
// @Summary      Create batch override request
// @Description  Creates a parent request plus one child per line. The parent routes at the highest tier any line requires.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateBatchOverrideRequest  true  "Create Batch Override Payload"
// @Success      201      {object}  response.Response{data=service.OverrideResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/approvals/batch [post]
func (h *ApprovalHandler) CreateBatchOverride(c *gin.Context) {
	var req service.CreateBatchOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.approvalService.CreateBatch(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListOverrides returns override requests with optional filters
// @Summary      List override requests
// @Description  Lists override requests filtered by status, tier or salesperson. Salespeople only ever see their own.
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        status          query     string  false  "Filter by status"
// @Param        tier            query     int     false  "Filter by tier"
// @Param        salesperson_id  query     string  false  "Filter by salesperson"
// @Param        page            query     int     false  "Page number (default 1)"
// @Param        limit           query     int     false  "Number of items per page (default 20)"
// @Success      200  {object}  response.Response{data=[]service.OverrideResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/approvals [get]
func (h *ApprovalHandler) ListOverrides(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tier, _ := strconv.Atoi(c.Query("tier"))

	q := service.ListOverridesQuery{
		Status:        c.Query("status"),
		SalespersonID: c.Query("salesperson_id"),
		Tier:          tier,
		Page:          page,
		Limit:         limit,
	}

	// Salespeople cannot browse other people's requests.
	if c.GetString(middleware.ContextUserRole) == string(model.RoleSalesperson) {
		q.SalespersonID = c.GetString(middleware.ContextUserID)
	}

	results, total, err := h.approvalService.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, results, total, page, limit))
}

// ListPending returns the live approval queue for the caller
// @Summary      Pending queue
// @Description  Lists pending requests the caller is entitled to answer, own rank or delegated.
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200  {object}  response.Response{data=[]service.OverrideResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/approvals/pending [get]
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	userID := c.GetString(middleware.ContextUserID)

	results, total, err := h.approvalService.PendingForApprover(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, results, total, page, limit))
}

// GetOverride returns one override request with its children
// @Summary      Get override request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.OverrideResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id} [get]
func (h *ApprovalHandler) GetOverride(c *gin.Context) {
	result, err := h.approvalService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApproveOverride approves a pending request at the requested price
// @Summary      Approve override
// @Description  Approves a pending request and returns it carrying the single-use register token. Batch approval issues one token per line.
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.OverrideResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/approve [post]
func (h *ApprovalHandler) ApproveOverride(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.approvalService.Approve(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DenyOverride denies a pending request
// @Summary      Deny override
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Request ID"
// @Param        payload  body      service.DenyOverrideRequest  true  "Denial reason"
// @Success      200  {object}  response.Response{data=service.OverrideResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/deny [post]
func (h *ApprovalHandler) DenyOverride(c *gin.Context) {
	var req service.DenyOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.approvalService.Deny(c.Request.Context(), c.Param("id"), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// CancelOverride withdraws the caller's own pending request
// @Summary      Cancel override
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.OverrideResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/cancel [post]
func (h *ApprovalHandler) CancelOverride(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.approvalService.Cancel(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetOverrideHistory returns the audit trail for one request
// @Summary      Override audit trail
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=[]service.AuditEntryResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id}/history [get]
func (h *ApprovalHandler) GetOverrideHistory(c *gin.Context) {
	entries, err := h.approvalService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// RedeemToken burns an approval token at the register
// @Summary      Redeem approval token
// @Description  Marks the token used exactly once and returns the approved price to apply. A second redemption fails with 422.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RedeemTokenRequest  true  "Redeem Token Payload"
// @Success      200  {object}  response.Response{data=service.RedemptionResponse}
// @Failure      422  {object}  response.Response
// @Router       /api/approvals/redeem [post]
func (h *ApprovalHandler) RedeemToken(c *gin.Context) {
	var req service.RedeemTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.tokenService.Redeem(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ListTierPolicies returns the approval threshold table
// @Summary      List tier policies
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.TierPolicyResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/tier-policies [get]
func (h *ApprovalHandler) ListTierPolicies(c *gin.Context) {
	policies, err := h.tierService.ListPolicies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, policies))
}
