package repository

import (
	"context"
	"strings"

	"stockroom/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookFilter narrows a book listing; zero values mean "any"
type BookFilter struct {
	Search    string
	Grade     int
	Type      string
	Publisher string
	LowStock  bool
}

type BookRepository interface {
	Create(ctx context.Context, book *model.Book) error
	// Update writes the descriptive columns only; quantity moves through SetQuantity or AdjustQuantity
	Update(ctx context.Context, book *model.Book) error
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error)
	List(ctx context.Context, filter BookFilter) ([]model.Book, error)
	AdjustQuantity(ctx context.Context, id uuid.UUID, change int) error
	Stats(ctx context.Context, bookType string) (model.StockStats, error)
	Grades(ctx context.Context) ([]int, error)
	Publishers(ctx context.Context) ([]string, error)
	PublisherCounts(ctx context.Context) ([]model.NameCount, error)
	CountByPublisher(ctx context.Context, publisher string) (int64, error)
	RenamePublisher(ctx context.Context, oldName, newName string) (int64, error)
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, book *model.Book) error {
	return GetDB(ctx, r.db).Create(book).Error
}

func (r *bookRepository) Update(ctx context.Context, book *model.Book) error {
	return GetDB(ctx, r.db).Model(book).
		Select("subject", "grade", "publisher", "author", "min_threshold", "notes", "type").
		Updates(book).Error
}

func (r *bookRepository) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	return GetDB(ctx, r.db).Model(&model.Book{}).Where("id = ?", id).Update("quantity", quantity).Error
}

func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Book{}).Error
}

func (r *bookRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := GetDB(ctx, r.db).First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(ctx context.Context, filter BookFilter) ([]model.Book, error) {
	var books []model.Book

	db := GetDB(ctx, r.db).Model(&model.Book{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		db = db.Where("LOWER(subject) LIKE ? OR LOWER(author) LIKE ? OR LOWER(notes) LIKE ?", like, like, like)
	}
	if filter.Grade > 0 {
		db = db.Where("grade = ?", filter.Grade)
	}
	if filter.Type != "" {
		db = db.Where("type = ?", filter.Type)
	}
	if filter.Publisher != "" {
		db = db.Where("publisher = ?", filter.Publisher)
	}
	if filter.LowStock {
		db = db.Where("quantity <= min_threshold")
	}

	if err := db.Order("grade ASC").Order("subject ASC").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) AdjustQuantity(ctx context.Context, id uuid.UUID, change int) error {
	result := GetDB(ctx, r.db).Model(&model.Book{}).
		Where("id = ?", id).
		Update("quantity", gorm.Expr("CASE WHEN quantity + ? < 0 THEN 0 ELSE quantity + ? END", change, change))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *bookRepository) Stats(ctx context.Context, bookType string) (model.StockStats, error) {
	var stats model.StockStats
	db := GetDB(ctx, r.db).Model(&model.Book{})
	if bookType != "" {
		db = db.Where("type = ?", bookType)
	}
	err := db.Select(stockStatsSelect).Scan(&stats).Error
	return stats, err
}

func (r *bookRepository) Grades(ctx context.Context) ([]int, error) {
	var grades []int
	err := GetDB(ctx, r.db).Model(&model.Book{}).
		Distinct("grade").Order("grade ASC").Pluck("grade", &grades).Error
	return grades, err
}

func (r *bookRepository) Publishers(ctx context.Context) ([]string, error) {
	var publishers []string
	err := GetDB(ctx, r.db).Model(&model.Book{}).
		Where("publisher <> ''").
		Distinct("publisher").Order("publisher ASC").Pluck("publisher", &publishers).Error
	return publishers, err
}

func (r *bookRepository) PublisherCounts(ctx context.Context) ([]model.NameCount, error) {
	var counts []model.NameCount
	err := GetDB(ctx, r.db).Model(&model.Book{}).
		Select("publisher AS name, COUNT(*) AS count").
		Group("publisher").Order("publisher ASC").
		Scan(&counts).Error
	return counts, err
}

func (r *bookRepository) CountByPublisher(ctx context.Context, publisher string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Book{}).Where("publisher = ?", publisher).Count(&count).Error
	return count, err
}

func (r *bookRepository) RenamePublisher(ctx context.Context, oldName, newName string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Book{}).
		Where("publisher = ?", oldName).
		Update("publisher", newName)
	return result.RowsAffected, result.Error
}
