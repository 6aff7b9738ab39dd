package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type CounterOfferHandler struct {
	counterOfferService service.CounterOfferService
}

func NewCounterOfferHandler(counterOfferService service.CounterOfferService) *CounterOfferHandler {
	return &CounterOfferHandler{counterOfferService: counterOfferService}
}

func (h *CounterOfferHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	approvals := router.Group("/api/approvals", auth.Authenticate())
	{
		approvals.POST("/:id/counter", h.CreateCounterOffer)
		approvals.GET("/:id/counter-offers", h.ListCounterOffers)
	}

	offers := router.Group("/api/counter-offers", auth.Authenticate())
	{
		offers.POST("/:id/accept", h.AcceptCounterOffer)
		offers.POST("/:id/decline", h.DeclineCounterOffer)
	}
}

// CreateCounterOffer proposes a middle-ground price on a pending request
// @Summary      Create counter-offer
// @Description  Moves the request to COUNTERED and records the proposed price. Only single-item requests can be countered.
// @Tags         counter-offers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                             true  "Request ID"
// @Param        payload  body      service.CreateCounterOfferRequest  true  "Counter Offer Payload"
// @Success      201  {object}  response.Response{data=service.CounterOfferResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/counter [post]
func (h *CounterOfferHandler) CreateCounterOffer(c *gin.Context) {
	var req service.CreateCounterOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.counterOfferService.Create(c.Request.Context(), c.Param("id"), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListCounterOffers returns every offer made on a request
// @Summary      List counter-offers
// @Tags         counter-offers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=[]service.CounterOfferResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id}/counter-offers [get]
func (h *CounterOfferHandler) ListCounterOffers(c *gin.Context) {
	offers, err := h.counterOfferService.ListForRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, offers))
}

// AcceptCounterOffer accepts the manager's counter price
// @Summary      Accept counter-offer
// @Description  Approves the parent request at the counter price and returns the offer carrying a fresh register token.
// @Tags         counter-offers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Offer ID"
// @Success      200  {object}  response.Response{data=service.CounterOfferResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/counter-offers/{id}/accept [post]
func (h *CounterOfferHandler) AcceptCounterOffer(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.counterOfferService.Accept(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DeclineCounterOffer declines the counter price
// @Summary      Decline counter-offer
// @Description  Returns the parent request to PENDING for the manager to approve, deny or re-counter. The original timeout clock keeps running.
// @Tags         counter-offers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Offer ID"
// @Success      200  {object}  response.Response{data=service.CounterOfferResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/counter-offers/{id}/decline [post]
func (h *CounterOfferHandler) DeclineCounterOffer(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	result, err := h.counterOfferService.Decline(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
