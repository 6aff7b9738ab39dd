package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presenceService service.PresenceService
}

func NewPresenceHandler(presenceService service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

func (h *PresenceHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	presence := router.Group("/api/presence", auth.Authenticate())
	{
		presence.GET("/approvers", h.ListApprovers)
	}
}

// ListApprovers returns the approver availability board
// @Summary      Approver presence
// @Description  Lists the last persisted presence snapshot per approver. The websocket feed is the live view; this endpoint seeds it.
// @Tags         presence
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.ApproverPresenceResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/presence/approvers [get]
func (h *PresenceHandler) ListApprovers(c *gin.Context) {
	results, err := h.presenceService.ListApprovers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, results))
}
