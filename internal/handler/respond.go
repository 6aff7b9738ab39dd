package handler

import (
	"backend/pkg/apperrors"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error to its HTTP status plus a machine
// readable code, so terminals can branch without parsing messages.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	c.JSON(status, response.ErrorWithCode(status, string(apperrors.CodeOf(err)), err.Error()))
}
