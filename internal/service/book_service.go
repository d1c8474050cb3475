package service

import (
	"context"
	"fmt"
	"strings"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	ws "stockroom/internal/websocket"

	"go.uber.org/zap"
)

type BookDTO struct {
	Subject      string `json:"subject" binding:"required"`
	Grade        int    `json:"grade" binding:"required,min=1"`
	Type         string `json:"type" binding:"required"`
	Publisher    string `json:"publisher"`
	Author       string `json:"author"`
	Quantity     *int   `json:"quantity" binding:"omitempty,min=0"`
	MinThreshold *int   `json:"min_threshold" binding:"omitempty,min=0"`
	Notes        string `json:"notes"`
}

type BookResponse struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Grade        int    `json:"grade"`
	Type         string `json:"type"`
	Publisher    string `json:"publisher"`
	Author       string `json:"author"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
	Notes        string `json:"notes"`
	StockLevel   string `json:"stock_level"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type BookService interface {
	List(ctx context.Context, filter repository.BookFilter) ([]BookResponse, error)
	Get(ctx context.Context, id string) (BookResponse, error)
	Create(ctx context.Context, caller Caller, req BookDTO) (BookResponse, error)
	Update(ctx context.Context, caller Caller, id string, req BookDTO) (BookResponse, error)
	AdjustQuantity(ctx context.Context, caller Caller, id string, change int) (BookResponse, error)
	Delete(ctx context.Context, caller Caller, id string) error
	Grades(ctx context.Context) ([]int, error)
	Publishers(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, bookType string) (model.StockStats, error)

	PublisherCounts(ctx context.Context) ([]model.NameCount, error)
	AddPublisher(ctx context.Context, name string) (string, error)
	RenamePublisher(ctx context.Context, caller Caller, req RenameDTO) (int64, error)
	DeletePublisher(ctx context.Context, name string) error
}

type bookService struct {
	bookRepo  repository.BookRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	events    EventPublisher
	log       *zap.Logger
}

func NewBookService(
	bookRepo repository.BookRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
	log *zap.Logger,
) BookService {
	if log == nil {
		log = zap.NewNop()
	}
	return &bookService{
		bookRepo:  bookRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		events:    publisherOrNoop(events),
		log:       log.Named("books"),
	}
}

func toBookResponse(b model.Book) BookResponse {
	return BookResponse{
		ID:           b.ID.String(),
		Subject:      b.Subject,
		Grade:        b.Grade,
		Type:         b.Type,
		Publisher:    b.Publisher,
		Author:       b.Author,
		Quantity:     b.Quantity,
		MinThreshold: b.MinThreshold,
		Notes:        b.Notes,
		StockLevel:   string(b.StockLevel()),
		CreatedAt:    formatTime(b.CreatedAt),
		UpdatedAt:    formatTime(b.UpdatedAt),
	}
}

func validateBook(req *BookDTO) error {
	req.Subject = strings.TrimSpace(req.Subject)
	req.Type = strings.TrimSpace(req.Type)
	req.Publisher = strings.TrimSpace(req.Publisher)
	if req.Subject == "" || req.Type == "" || req.Grade < 1 {
		return apperror.Validation("subject, grade and type are required")
	}
	if req.Quantity != nil && *req.Quantity < 0 {
		return apperror.Validation("quantity must not be negative")
	}
	if req.MinThreshold != nil && *req.MinThreshold < 0 {
		return apperror.Validation("min_threshold must not be negative")
	}
	return nil
}

func (s *bookService) List(ctx context.Context, filter repository.BookFilter) ([]BookResponse, error) {
	books, err := s.bookRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	res := make([]BookResponse, 0, len(books))
	for _, b := range books {
		res = append(res, toBookResponse(b))
	}
	return res, nil
}

func (s *bookService) Get(ctx context.Context, id string) (BookResponse, error) {
	bookID, err := parseID(id, "book")
	if err != nil {
		return BookResponse{}, err
	}
	book, err := s.bookRepo.FindByID(ctx, bookID)
	if err != nil {
		return BookResponse{}, notFoundOr(err, "book not found")
	}
	return toBookResponse(*book), nil
}

func (s *bookService) Create(ctx context.Context, caller Caller, req BookDTO) (BookResponse, error) {
	if err := validateBook(&req); err != nil {
		return BookResponse{}, err
	}

	book := model.Book{
		Subject:      req.Subject,
		Grade:        req.Grade,
		Type:         req.Type,
		Publisher:    req.Publisher,
		Author:       req.Author,
		Quantity:     intOr(req.Quantity, 0),
		MinThreshold: intOr(req.MinThreshold, model.DefaultMinThreshold),
		Notes:        req.Notes,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.bookRepo.Create(txCtx, &book); err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionCreateBook, book, req)
	})
	if err != nil {
		return BookResponse{}, err
	}
	return toBookResponse(book), nil
}

func (s *bookService) Update(ctx context.Context, caller Caller, id string, req BookDTO) (BookResponse, error) {
	bookID, err := parseID(id, "book")
	if err != nil {
		return BookResponse{}, err
	}
	if err := validateBook(&req); err != nil {
		return BookResponse{}, err
	}

	var book *model.Book
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		book, err = s.bookRepo.FindByID(txCtx, bookID)
		if err != nil {
			return notFoundOr(err, "book not found")
		}

		book.Subject = req.Subject
		book.Grade = req.Grade
		book.Type = req.Type
		book.Publisher = req.Publisher
		book.Author = req.Author
		book.MinThreshold = intOr(req.MinThreshold, book.MinThreshold)
		book.Notes = req.Notes
		if err := s.bookRepo.Update(txCtx, book); err != nil {
			return fmt.Errorf("failed to update book: %w", err)
		}
		if req.Quantity != nil {
			if err := s.bookRepo.SetQuantity(txCtx, bookID, *req.Quantity); err != nil {
				return fmt.Errorf("failed to set book quantity: %w", err)
			}
		}

		if err := s.audit(txCtx, caller, model.ActionUpdateBook, *book, req); err != nil {
			return err
		}
		book, err = s.bookRepo.FindByID(txCtx, bookID)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	if req.Quantity != nil {
		s.publishStock(*book)
	}
	return toBookResponse(*book), nil
}

func (s *bookService) AdjustQuantity(ctx context.Context, caller Caller, id string, change int) (BookResponse, error) {
	bookID, err := parseID(id, "book")
	if err != nil {
		return BookResponse{}, err
	}

	var book *model.Book
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.bookRepo.AdjustQuantity(txCtx, bookID, change); err != nil {
			return notFoundOr(err, "book not found")
		}
		book, err = s.bookRepo.FindByID(txCtx, bookID)
		if err != nil {
			return notFoundOr(err, "book not found")
		}
		return s.audit(txCtx, caller, model.ActionAdjustBook, *book, map[string]int{
			"change":         change,
			"quantity_after": book.Quantity,
		})
	})
	if err != nil {
		return BookResponse{}, err
	}

	s.publishStock(*book)
	return toBookResponse(*book), nil
}

func (s *bookService) Delete(ctx context.Context, caller Caller, id string) error {
	bookID, err := parseID(id, "book")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		book, err := s.bookRepo.FindByID(txCtx, bookID)
		if err != nil {
			return notFoundOr(err, "book not found")
		}
		if err := s.bookRepo.Delete(txCtx, bookID); err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionDeleteBook, *book, map[string]bool{"deleted": true})
	})
}

func (s *bookService) Grades(ctx context.Context) ([]int, error) {
	grades, err := s.bookRepo.Grades(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}
	return grades, nil
}

func (s *bookService) Publishers(ctx context.Context) ([]string, error) {
	publishers, err := s.bookRepo.Publishers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	return publishers, nil
}

func (s *bookService) Stats(ctx context.Context, bookType string) (model.StockStats, error) {
	stats, err := s.bookRepo.Stats(ctx, strings.TrimSpace(bookType))
	if err != nil {
		return model.StockStats{}, fmt.Errorf("failed to compute book stats: %w", err)
	}
	return stats, nil
}

func (s *bookService) PublisherCounts(ctx context.Context) ([]model.NameCount, error) {
	counts, err := s.bookRepo.PublisherCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count publishers: %w", err)
	}
	return counts, nil
}

func (s *bookService) AddPublisher(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("publisher name is required")
	}
	count, err := s.bookRepo.CountByPublisher(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to check publisher: %w", err)
	}
	if count > 0 {
		return "", apperror.Conflict("publisher %q already exists", name)
	}
	return name, nil
}

func (s *bookService) RenamePublisher(ctx context.Context, caller Caller, req RenameDTO) (int64, error) {
	oldName := strings.TrimSpace(req.OldName)
	newName := strings.TrimSpace(req.Name)
	if oldName == "" || newName == "" {
		return 0, apperror.Validation("old and new publisher names are required")
	}
	if oldName == newName {
		return 0, nil
	}

	var renamed int64
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.bookRepo.CountByPublisher(txCtx, newName)
		if err != nil {
			return fmt.Errorf("failed to check publisher: %w", err)
		}
		if existing > 0 {
			return apperror.Conflict("publisher %q already exists", newName)
		}

		renamed, err = s.bookRepo.RenamePublisher(txCtx, oldName, newName)
		if err != nil {
			return fmt.Errorf("failed to rename publisher: %w", err)
		}

		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     caller.auditUserID(),
			Action:     model.ActionRenamePublisher,
			EntityID:   oldName,
			EntityName: newName,
			IPAddress:  caller.IP,
			Details:    marshalDetails(map[string]interface{}{"old_name": oldName, "name": newName, "books": renamed}),
		})
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("publisher renamed", zap.String("from", oldName), zap.String("to", newName), zap.Int64("books", renamed))
	return renamed, nil
}

func (s *bookService) DeletePublisher(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperror.Validation("publisher name is required")
	}
	count, err := s.bookRepo.CountByPublisher(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check publisher: %w", err)
	}
	if count > 0 {
		return apperror.Conflict("publisher %q is used by %d books", name, count)
	}
	return nil
}

func (s *bookService) audit(ctx context.Context, caller Caller, action string, b model.Book, details interface{}) error {
	entry := &model.AuditLog{
		UserID:     caller.auditUserID(),
		Action:     action,
		EntityID:   b.ID.String(),
		EntityName: fmt.Sprintf("%s (grade %d)", b.Subject, b.Grade),
		IPAddress:  caller.IP,
		Details:    marshalDetails(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *bookService) publishStock(b model.Book) {
	s.events.Publish(ws.EventBookStockMoved, map[string]interface{}{
		"book_id":     b.ID.String(),
		"quantity":    b.Quantity,
		"stock_level": b.StockLevel(),
	})
}
