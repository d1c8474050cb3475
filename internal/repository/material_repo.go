package repository

import (
	"context"
	"strings"

	"stockroom/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaterialFilter narrows a material listing; zero values mean "any"
type MaterialFilter struct {
	Search   string
	Category string
	LowStock bool
}

type MaterialRepository interface {
	Create(ctx context.Context, material *model.Material) error
	// Update writes the descriptive columns only; quantity moves through SetQuantity or AdjustQuantity
	Update(ctx context.Context, material *model.Material) error
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Material, error)
	List(ctx context.Context, filter MaterialFilter) ([]model.Material, error)
	// AdjustQuantity adds change to the quantity in one statement, clamping at zero.
	// It returns gorm.ErrRecordNotFound when no live material has that id.
	AdjustQuantity(ctx context.Context, id uuid.UUID, change int) error
	// DeductStock subtracts qty only while quantity >= qty, as a single conditional
	// UPDATE. ok is false when the row was missing or held too little stock.
	DeductStock(ctx context.Context, id uuid.UUID, qty int) (ok bool, err error)
	Stats(ctx context.Context) (model.StockStats, error)
	Categories(ctx context.Context) ([]string, error)
	CategoryCounts(ctx context.Context) ([]model.NameCount, error)
	CountInCategory(ctx context.Context, category string) (int64, error)
	RenameCategory(ctx context.Context, oldName, newName string) (int64, error)
}

type materialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) MaterialRepository {
	return &materialRepository{db: db}
}

func (r *materialRepository) Create(ctx context.Context, material *model.Material) error {
	return GetDB(ctx, r.db).Create(material).Error
}

func (r *materialRepository) Update(ctx context.Context, material *model.Material) error {
	return GetDB(ctx, r.db).Model(material).
		Select("name", "category", "min_threshold", "max_threshold", "notes").
		Updates(material).Error
}

func (r *materialRepository) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	return GetDB(ctx, r.db).Model(&model.Material{}).Where("id = ?", id).Update("quantity", quantity).Error
}

func (r *materialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Material{}).Error
}

func (r *materialRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Material, error) {
	var material model.Material
	if err := GetDB(ctx, r.db).First(&material, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &material, nil
}

func (r *materialRepository) List(ctx context.Context, filter MaterialFilter) ([]model.Material, error) {
	var materials []model.Material

	db := GetDB(ctx, r.db).Model(&model.Material{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(notes) LIKE ?", like, like)
	}
	if filter.Category != "" {
		db = db.Where("category = ?", filter.Category)
	}
	if filter.LowStock {
		db = db.Where("quantity <= min_threshold")
	}

	if err := db.Order("category ASC").Order("name ASC").Find(&materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}

func (r *materialRepository) AdjustQuantity(ctx context.Context, id uuid.UUID, change int) error {
	result := GetDB(ctx, r.db).Model(&model.Material{}).
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

func (r *materialRepository) DeductStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	result := GetDB(ctx, r.db).Model(&model.Material{}).
		Where("id = ? AND quantity >= ?", id, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *materialRepository) Stats(ctx context.Context) (model.StockStats, error) {
	var stats model.StockStats
	err := GetDB(ctx, r.db).Model(&model.Material{}).Select(stockStatsSelect).Scan(&stats).Error
	return stats, err
}

func (r *materialRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := GetDB(ctx, r.db).Model(&model.Material{}).
		Distinct("category").Order("category ASC").Pluck("category", &categories).Error
	return categories, err
}

func (r *materialRepository) CategoryCounts(ctx context.Context) ([]model.NameCount, error) {
	var counts []model.NameCount
	err := GetDB(ctx, r.db).Model(&model.Material{}).
		Select("category AS name, COUNT(*) AS count").
		Group("category").Order("category ASC").
		Scan(&counts).Error
	return counts, err
}

func (r *materialRepository) CountInCategory(ctx context.Context, category string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Material{}).Where("category = ?", category).Count(&count).Error
	return count, err
}

func (r *materialRepository) RenameCategory(ctx context.Context, oldName, newName string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Material{}).
		Where("category = ?", oldName).
		Update("category", newName)
	return result.RowsAffected, result.Error
}

// stockStatsSelect buckets rows the same way model.ClassifyStock does
const stockStatsSelect = `COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN quantity <= 0 THEN 1 ELSE 0 END), 0) AS out_of_stock,
	COALESCE(SUM(CASE WHEN quantity > 0 AND quantity <= min_threshold THEN 1 ELSE 0 END), 0) AS low_stock,
	COALESCE(SUM(CASE WHEN quantity > min_threshold THEN 1 ELSE 0 END), 0) AS adequate`
