package handler

import (
	"net/http"

	"stockroom/internal/apperror"
	"stockroom/internal/middleware"
	"stockroom/internal/service"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error onto the envelope; unknown errors are hidden behind a 500
func respondError(c *gin.Context, err error) {
	status, code := apperror.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.JSON(status, response.ErrorWithCode(status, code, msg))
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest, apperror.CodeValidation, middleware.BindingErrorMessage(err)))
}

// callerFrom builds the service Caller from what the auth middleware stored
func callerFrom(c *gin.Context) service.Caller {
	id, role, _ := middleware.CurrentUser(c)
	return service.Caller{ID: id, Role: role, IP: c.ClientIP()}
}
