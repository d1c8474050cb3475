package handler

import (
	"net/http"

	"stockroom/internal/middleware"
	"stockroom/internal/model"
	"stockroom/internal/service"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
	auth           *middleware.Authenticator
}

func NewRequestHandler(requestService service.RequestService, auth *middleware.Authenticator) *RequestHandler {
	return &RequestHandler{requestService: requestService, auth: auth}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	requests.Use(h.auth.Authenticated())
	{
		requests.GET("", h.ListRequests)
		requests.POST("", h.CreateRequest)
		requests.GET("/stats", h.auth.RequireRole(model.RoleAdmin), h.GetStats)
		requests.GET("/history/:user_id", h.GetHistory)
		requests.PUT("/:id", h.EditRequest)
		requests.PUT("/:id/process", h.auth.RequireRole(model.RoleAdmin), h.ProcessRequest)
		requests.DELETE("/:id", h.DeleteRequest)
	}
}

// ListRequests returns the caller's requests, or every request for admins
// @Summary      List material requests
// @Description  Admins see all requests, pending first; users see only their own, newest first
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.MaterialRequestResponse}
// @Failure      401  {object}  response.Response
// @Router       /api/requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	requests, err := h.requestService.List(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, requests))
}

// CreateRequest files a new pending request
// @Summary      Create a material request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateRequestDTO  true  "Request payload"
// @Success      201      {object}  response.Response{data=service.MaterialRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req service.CreateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	created, err := h.requestService.Create(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

// EditRequest changes quantity and notes of the caller's own pending request
// @Summary      Edit a pending request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Request ID"
// @Param        payload  body      service.EditRequestDTO  true  "New quantity and notes"
// @Success      200      {object}  response.Response{data=service.MaterialRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id} [put]
func (h *RequestHandler) EditRequest(c *gin.Context) {
	var req service.EditRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	updated, err := h.requestService.Edit(c.Request.Context(), callerFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, updated))
}

// ProcessRequest approves or rejects a pending request. Approval deducts stock.
// @Summary      Approve or reject a request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Request ID"
// @Param        payload  body      service.ProcessRequestDTO  true  "Decision (approved|rejected) and admin notes"
// @Success      200      {object}  response.Response{data=service.MaterialRequestResponse}
// @Failure      400      {object}  response.Response  "Invalid decision or insufficient stock"
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response  "Already processed"
// @Router       /api/requests/{id}/process [put]
func (h *RequestHandler) ProcessRequest(c *gin.Context) {
	var req service.ProcessRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	processed, err := h.requestService.Process(c.Request.Context(), callerFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, processed))
}

// DeleteRequest removes a request. Users may only remove their own pending ones.
// @Summary      Delete a request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requests/{id} [delete]
func (h *RequestHandler) DeleteRequest(c *gin.Context) {
	if err := h.requestService.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Request deleted successfully"}))
}

// GetHistory returns a user's approved requests
// @Summary      Approved request history
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        user_id  path      string  true  "User ID"
// @Success      200      {object}  response.Response{data=[]service.MaterialRequestResponse}
// @Failure      403      {object}  response.Response
// @Router       /api/requests/history/{user_id} [get]
func (h *RequestHandler) GetHistory(c *gin.Context) {
	history, err := h.requestService.History(c.Request.Context(), callerFrom(c), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// GetStats counts requests by status
// @Summary      Request statistics
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=model.RequestStats}
// @Failure      403  {object}  response.Response
// @Router       /api/requests/stats [get]
func (h *RequestHandler) GetStats(c *gin.Context) {
	stats, err := h.requestService.Stats(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
