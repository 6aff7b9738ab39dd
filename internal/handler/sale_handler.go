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

type SaleHandler struct {
	saleService service.SaleService
}

func NewSaleHandler(saleService service.SaleService) *SaleHandler {
	return &SaleHandler{saleService: saleService}
}

func (h *SaleHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	sales := router.Group("/api/sales", auth.Authenticate())
	{
		sales.POST("", h.CreateSale)
		sales.GET("", h.ListSales)
		sales.GET("/:id", h.GetSale)
		sales.POST("/:id/checkout", h.Checkout)
		sales.POST("/:id/void", h.VoidSale)
	}
}

// CreateSale opens a draft register transaction
// @Summary      Create sale
// @Description  Opens a draft sale. Every line starts at list price; overrides land at checkout via their tokens.
// @Tags         sales
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateSaleRequest  true  "Create Sale Payload"
// @Success      201      {object}  response.Response{data=service.SaleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/sales [post]
func (h *SaleHandler) CreateSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.saleService.CreateSale(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListSales returns register transactions
// @Summary      List sales
// @Description  Lists sales newest first. Salespeople only ever see their own register history.
// @Tags         sales
// @Security     BearerAuth
// @Produce      json
// @Param        salesperson_id  query     string  false  "Filter by salesperson"
// @Param        page            query     int     false  "Page number (default 1)"
// @Param        limit           query     int     false  "Number of items per page (default 20)"
// @Success      200  {object}  response.Response{data=[]service.SaleResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/sales [get]
func (h *SaleHandler) ListSales(c *gin.Context) {
	p := pagination.Parse(c)

	salespersonID := c.Query("salesperson_id")
	if c.GetString(middleware.ContextUserRole) == string(model.RoleSalesperson) {
		salespersonID = c.GetString(middleware.ContextUserID)
	}

	results, total, err := h.saleService.ListSales(c.Request.Context(), salespersonID, p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, results, total, p.Page, p.Limit))
}

// GetSale returns one sale with its lines
// @Summary      Get sale
// @Tags         sales
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Sale ID"
// @Success      200  {object}  response.Response{data=service.SaleResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/sales/{id} [get]
func (h *SaleHandler) GetSale(c *gin.Context) {
	result, err := h.saleService.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Checkout completes a draft sale
// @Summary      Checkout sale
// @Description  Redeems any approval tokens, applies the approved prices, decrements stock and issues the receipt in one transaction.
// @Tags         sales
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Sale ID"
// @Param        payload  body      service.CheckoutRequest  true  "Checkout Payload"
// @Success      200      {object}  response.Response{data=service.SaleResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/sales/{id}/checkout [post]
func (h *SaleHandler) Checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	result, err := h.saleService.Checkout(c.Request.Context(), userID, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// VoidSale abandons a draft sale
// @Summary      Void sale
// @Tags         sales
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Sale ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/sales/{id}/void [post]
func (h *SaleHandler) VoidSale(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	if err := h.saleService.VoidSale(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Sale voided"))
}
