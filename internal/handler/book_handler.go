package handler

import (
	"net/http"
	"strconv"

	"stockroom/internal/apperror"
	"stockroom/internal/middleware"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	"stockroom/internal/service"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
)

type BookHandler struct {
	bookService service.BookService
	auth        *middleware.Authenticator
}

func NewBookHandler(bookService service.BookService, auth *middleware.Authenticator) *BookHandler {
	return &BookHandler{bookService: bookService, auth: auth}
}

func (h *BookHandler) RegisterRoutes(router *gin.RouterGroup) {
	books := router.Group("/api/books")
	books.Use(h.auth.Authenticated())
	{
		books.GET("", h.ListBooks)
		books.GET("/grades", h.GetGrades)
		books.GET("/publishers", h.GetPublishers)
		books.GET("/stats", h.GetStats)
		books.GET("/:id", h.GetBook)
		books.POST("", h.CreateBook)
		books.PUT("/:id", h.UpdateBook)
		books.PATCH("/:id/quantity", h.AdjustQuantity)
		books.DELETE("/:id", h.DeleteBook)
	}

	admin := router.Group("/api/admin/publishers")
	admin.Use(h.auth.RequireRole(model.RoleAdmin))
	{
		admin.GET("", h.ListPublisherCounts)
		admin.POST("", h.AddPublisher)
		admin.PUT("", h.RenamePublisher)
		admin.DELETE("", h.DeletePublisher)
	}
}

// ListBooks
// @Summary      List textbooks
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Param        search     query     string  false  "Matches subject, author or notes"
// @Param        grade      query     int     false  "Grade"
// @Param        type       query     string  false  "Book type"
// @Param        publisher  query     string  false  "Publisher"
// @Param        low_stock  query     bool    false  "Only books at or below their minimum"
// @Success      200        {object}  response.Response{data=[]service.BookResponse}
// @Failure      400        {object}  response.Response
// @Router       /api/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	filter := repository.BookFilter{
		Search:    c.Query("search"),
		Type:      c.Query("type"),
		Publisher: c.Query("publisher"),
	}
	if raw := c.Query("grade"); raw != "" {
		grade, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperror.Validation("grade must be a number"))
			return
		}
		filter.Grade = grade
	}
	filter.LowStock, _ = strconv.ParseBool(c.Query("low_stock"))

	books, err := h.bookService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, books))
}

// GetBook
// @Summary      Get a textbook
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  response.Response{data=service.BookResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/books/{id} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	book, err := h.bookService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, book))
}

// CreateBook
// @Summary      Create a textbook
// @Tags         books
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.BookDTO  true  "Book"
// @Success      201      {object}  response.Response{data=service.BookResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/books [post]
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req service.BookDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	book, err := h.bookService.Create(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, book))
}

// UpdateBook
// @Summary      Update a textbook
// @Tags         books
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Book ID"
// @Param        payload  body      service.BookDTO  true  "Book"
// @Success      200      {object}  response.Response{data=service.BookResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/books/{id} [put]
func (h *BookHandler) UpdateBook(c *gin.Context) {
	var req service.BookDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	book, err := h.bookService.Update(c.Request.Context(), callerFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, book))
}

// AdjustQuantity
// @Summary      Adjust textbook stock
// @Tags         books
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Book ID"
// @Param        payload  body      service.QuantityChangeDTO  true  "Signed change"
// @Success      200      {object}  response.Response{data=service.BookResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/books/{id}/quantity [patch]
func (h *BookHandler) AdjustQuantity(c *gin.Context) {
	var req service.QuantityChangeDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	book, err := h.bookService.AdjustQuantity(c.Request.Context(), callerFrom(c), c.Param("id"), req.Change)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, book))
}

// DeleteBook
// @Summary      Delete a textbook
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/books/{id} [delete]
func (h *BookHandler) DeleteBook(c *gin.Context) {
	if err := h.bookService.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Book deleted successfully"}))
}

// GetGrades
// @Summary      Distinct grades
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]int}
// @Router       /api/books/grades [get]
func (h *BookHandler) GetGrades(c *gin.Context) {
	grades, err := h.bookService.Grades(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, grades))
}

// GetPublishers
// @Summary      Distinct publishers
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]string}
// @Router       /api/books/publishers [get]
func (h *BookHandler) GetPublishers(c *gin.Context) {
	publishers, err := h.bookService.Publishers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, publishers))
}

// GetStats
// @Summary      Textbook stock summary
// @Tags         books
// @Security     BearerAuth
// @Produce      json
// @Param        type  query     string  false  "Restrict to one book type"
// @Success      200   {object}  response.Response{data=model.StockStats}
// @Router       /api/books/stats [get]
func (h *BookHandler) GetStats(c *gin.Context) {
	stats, err := h.bookService.Stats(c.Request.Context(), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// ListPublisherCounts
// @Summary      Publishers with book counts
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.NameCount}
// @Router       /api/admin/publishers [get]
func (h *BookHandler) ListPublisherCounts(c *gin.Context) {
	counts, err := h.bookService.PublisherCounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, counts))
}

// AddPublisher
// @Summary      Reserve a publisher name
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.NameDTO  true  "Publisher name"
// @Success      201      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/admin/publishers [post]
func (h *BookHandler) AddPublisher(c *gin.Context) {
	var req service.NameDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	name, err := h.bookService.AddPublisher(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{"name": name}))
}

// RenamePublisher
// @Summary      Rename a publisher on every book
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RenameDTO  true  "Old and new name"
// @Success      200      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/admin/publishers [put]
func (h *BookHandler) RenamePublisher(c *gin.Context) {
	var req service.RenameDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	updated, err := h.bookService.RenamePublisher(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"name": req.Name, "updated": updated}))
}

// DeletePublisher
// @Summary      Delete an unused publisher
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        name  query     string  true  "Publisher name"
// @Success      200   {object}  response.Response
// @Failure      409   {object}  response.Response  "Publisher still in use"
// @Router       /api/admin/publishers [delete]
func (h *BookHandler) DeletePublisher(c *gin.Context) {
	if err := h.bookService.DeletePublisher(c.Request.Context(), c.Query("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Publisher deleted successfully"}))
}
