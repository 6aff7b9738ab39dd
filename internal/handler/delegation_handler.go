package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type DelegationHandler struct {
	delegationService service.DelegationService
}

func NewDelegationHandler(delegationService service.DelegationService) *DelegationHandler {
	return &DelegationHandler{delegationService: delegationService}
}

func (h *DelegationHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	delegations := router.Group("/api/delegations", auth.Authenticate(), auth.RequireRole(model.RoleManager))
	{
		delegations.POST("", h.CreateDelegation)
		delegations.GET("", h.ListDelegations)
		delegations.POST("/:id/revoke", h.RevokeDelegation)
	}
}

// CreateDelegation lends the caller's approval authority
// @Summary      Create delegation
// @Description  Grants the delegate the caller's rank until the expiry. Authority does not chain through the delegate.
// @Tags         delegations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateDelegationRequest  true  "Create Delegation Payload"
// @Success      201      {object}  response.Response{data=service.DelegationResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/delegations [post]
func (h *DelegationHandler) CreateDelegation(c *gin.Context) {
	var req service.CreateDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.delegationService.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListDelegations returns delegations the caller granted or holds
// @Summary      List delegations
// @Tags         delegations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.DelegationResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/delegations [get]
func (h *DelegationHandler) ListDelegations(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	results, err := h.delegationService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, results))
}

// RevokeDelegation ends a delegation before its expiry
// @Summary      Revoke delegation
// @Description  Deactivates a delegation the caller granted. Already-expired delegations answer with a conflict.
// @Tags         delegations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Delegation ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/delegations/{id}/revoke [post]
func (h *DelegationHandler) RevokeDelegation(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	if err := h.delegationService.Revoke(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Delegation revoked"))
}
