package handler

import (
	"net/http"
	"strconv"

	"stockroom/internal/middleware"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	"stockroom/internal/service"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
)

type MaterialHandler struct {
	materialService service.MaterialService
	auth            *middleware.Authenticator
}

func NewMaterialHandler(materialService service.MaterialService, auth *middleware.Authenticator) *MaterialHandler {
	return &MaterialHandler{materialService: materialService, auth: auth}
}

func (h *MaterialHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	api.Use(h.auth.Authenticated())
	{
		api.GET("/categories", h.GetCategories)
		api.GET("/stats", h.GetStats)
	}

	materials := api.Group("/materials")
	{
		materials.GET("", h.ListMaterials)
		materials.GET("/:id", h.GetMaterial)
		materials.POST("", h.CreateMaterial)
		materials.PUT("/:id", h.UpdateMaterial)
		materials.PATCH("/:id/quantity", h.AdjustQuantity)
		materials.DELETE("/:id", h.DeleteMaterial)
	}

	admin := router.Group("/api/admin/categories")
	admin.Use(h.auth.RequireRole(model.RoleAdmin))
	{
		admin.GET("", h.ListCategoryCounts)
		admin.POST("", h.AddCategory)
		admin.PUT("", h.RenameCategory)
		admin.DELETE("", h.DeleteCategory)
	}
}

// ListMaterials
// @Summary      List materials
// @Tags         materials
// @Security     BearerAuth
// @Produce      json
// @Param        search     query     string  false  "Matches name or notes"
// @Param        category   query     string  false  "Exact category"
// @Param        low_stock  query     bool    false  "Only materials at or below their minimum"
// @Success      200        {object}  response.Response{data=[]service.MaterialResponse}
// @Router       /api/materials [get]
func (h *MaterialHandler) ListMaterials(c *gin.Context) {
	lowStock, _ := strconv.ParseBool(c.Query("low_stock"))
	filter := repository.MaterialFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		LowStock: lowStock,
	}

	materials, err := h.materialService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, materials))
}

// GetMaterial
// @Summary      Get a material
// @Tags         materials
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Material ID"
// @Success      200  {object}  response.Response{data=service.MaterialResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/materials/{id} [get]
func (h *MaterialHandler) GetMaterial(c *gin.Context) {
	material, err := h.materialService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, material))
}

// CreateMaterial
// @Summary      Create a material
// @Description  Quantity defaults to 0, thresholds to 5 and 50
// @Tags         materials
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.MaterialDTO  true  "Material"
// @Success      201      {object}  response.Response{data=service.MaterialResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/materials [post]
func (h *MaterialHandler) CreateMaterial(c *gin.Context) {
	var req service.MaterialDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	material, err := h.materialService.Create(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, material))
}

// UpdateMaterial
// @Summary      Update a material
// @Tags         materials
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string               true  "Material ID"
// @Param        payload  body      service.MaterialDTO  true  "Material"
// @Success      200      {object}  response.Response{data=service.MaterialResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/materials/{id} [put]
func (h *MaterialHandler) UpdateMaterial(c *gin.Context) {
	var req service.MaterialDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	material, err := h.materialService.Update(c.Request.Context(), callerFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, material))
}

// AdjustQuantity
// @Summary      Adjust material stock
// @Description  Adds a signed change to the quantity; the result never drops below zero
// @Tags         materials
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Material ID"
// @Param        payload  body      service.QuantityChangeDTO  true  "Signed change"
// @Success      200      {object}  response.Response{data=service.MaterialResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/materials/{id}/quantity [patch]
func (h *MaterialHandler) AdjustQuantity(c *gin.Context) {
	var req service.QuantityChangeDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	material, err := h.materialService.AdjustQuantity(c.Request.Context(), callerFrom(c), c.Param("id"), req.Change)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, material))
}

// DeleteMaterial
// @Summary      Delete a material
// @Tags         materials
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Material ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/materials/{id} [delete]
func (h *MaterialHandler) DeleteMaterial(c *gin.Context) {
	if err := h.materialService.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Material deleted successfully"}))
}

// GetCategories
// @Summary      Distinct material categories
// @Tags         materials
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]string}
// @Router       /api/categories [get]
func (h *MaterialHandler) GetCategories(c *gin.Context) {
	categories, err := h.materialService.Categories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, categories))
}

// GetStats
// @Summary      Material stock summary
// @Tags         materials
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=model.StockStats}
// @Router       /api/stats [get]
func (h *MaterialHandler) GetStats(c *gin.Context) {
	stats, err := h.materialService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// ListCategoryCounts
// @Summary      Categories with material counts
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.NameCount}
// @Router       /api/admin/categories [get]
func (h *MaterialHandler) ListCategoryCounts(c *gin.Context) {
	counts, err := h.materialService.CategoryCounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, counts))
}

// AddCategory
// @Summary      Reserve a category name
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.NameDTO  true  "Category name"
// @Success      201      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/admin/categories [post]
func (h *MaterialHandler) AddCategory(c *gin.Context) {
	var req service.NameDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	name, err := h.materialService.AddCategory(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{"name": name}))
}

// RenameCategory
// @Summary      Rename a category on every material
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RenameDTO  true  "Old and new name"
// @Success      200      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/admin/categories [put]
func (h *MaterialHandler) RenameCategory(c *gin.Context) {
	var req service.RenameDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	updated, err := h.materialService.RenameCategory(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"name": req.Name, "updated": updated}))
}

// DeleteCategory
// @Summary      Delete an unused category
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        name  query     string  true  "Category name"
// @Success      200   {object}  response.Response
// @Failure      409   {object}  response.Response  "Category still in use"
// @Router       /api/admin/categories [delete]
func (h *MaterialHandler) DeleteCategory(c *gin.Context) {
	if err := h.materialService.DeleteCategory(c.Request.Context(), c.Query("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Category deleted successfully"}))
}
