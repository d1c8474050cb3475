package repository

import (
	"context"
	"fmt"
	"time"

	"stockroom/internal/model"

	"gorm.io/gorm"
)

// StatisticsRepository reports stock drawn by approved requests over a window of processed_at
type StatisticsRepository interface {
	ConsumptionByPeriod(ctx context.Context, groupBy string, start, end time.Time) ([]model.PeriodConsumption, error)
	TopMaterials(ctx context.Context, start, end time.Time, limit int) ([]model.MaterialRanking, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

// ConsumptionByPeriod buckets with DATE_TRUNC, so it needs PostgreSQL. groupBy must be
// a DATE_TRUNC field the caller has already validated.
func (r *statisticsRepository) ConsumptionByPeriod(ctx context.Context, groupBy string, start, end time.Time) ([]model.PeriodConsumption, error) {
	query := `
		SELECT
			TO_CHAR(DATE_TRUNC(?, mr.processed_at), 'YYYY-MM-DD') AS period,
			COUNT(*) AS requests,
			COALESCE(SUM(mr.requested_quantity), 0) AS units
		FROM material_requests mr
		WHERE mr.status = ?
		  AND mr.processed_at >= ?
		  AND mr.processed_at <= ?
		GROUP BY DATE_TRUNC(?, mr.processed_at)
		ORDER BY period
	`

	var rows []model.PeriodConsumption
	if err := GetDB(ctx, r.db).Raw(query,
		groupBy, model.RequestApproved, start, end, groupBy,
	).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query consumption statistics: %w", err)
	}
	return rows, nil
}

// TopMaterials includes soft-deleted materials so past consumption keeps its name
func (r *statisticsRepository) TopMaterials(ctx context.Context, start, end time.Time, limit int) ([]model.MaterialRanking, error) {
	var rankings []model.MaterialRanking
	if err := GetDB(ctx, r.db).Table("material_requests").
		Select("materials.id AS material_id, materials.name AS material_name, materials.category AS category, "+
			"COUNT(*) AS requests, COALESCE(SUM(material_requests.requested_quantity), 0) AS units").
		Joins("JOIN materials ON materials.id = material_requests.material_id").
		Where("material_requests.status = ? AND material_requests.processed_at >= ? AND material_requests.processed_at <= ?",
			model.RequestApproved, start, end).
		Group("materials.id, materials.name, materials.category").
		Order("units DESC, material_name").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top materials: %w", err)
	}
	return rankings, nil
}
