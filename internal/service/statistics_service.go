package service

import (
	"context"
	"fmt"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/internal/repository"
)

const defaultTopMaterials = 10

type ConsumptionFilter struct {
	GroupBy string // week, month, quarter, year
	Start   *time.Time
	End     *time.Time
	Limit   int
}

type ConsumptionReport struct {
	GroupBy      string                    `json:"group_by"`
	Start        string                    `json:"start"`
	End          string                    `json:"end"`
	Periods      []model.PeriodConsumption `json:"periods"`
	TopMaterials []model.MaterialRanking   `json:"top_materials"`
}

type StatisticsService interface {
	Consumption(ctx context.Context, caller Caller, filter ConsumptionFilter) (ConsumptionReport, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
	now  func() time.Time
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo, now: time.Now}
}

// Consumption reports units drawn by approved requests. The window defaults to the
// current month up to now.
func (s *statisticsService) Consumption(ctx context.Context, caller Caller, filter ConsumptionFilter) (ConsumptionReport, error) {
	if !caller.IsAdmin() {
		return ConsumptionReport{}, apperror.Permission("only admins can view consumption statistics")
	}

	groupBy := filter.GroupBy
	switch groupBy {
	case "week", "month", "quarter", "year":
	case "":
		groupBy = "month"
	default:
		return ConsumptionReport{}, apperror.Validation("group_by must be one of week, month, quarter, year")
	}

	now := s.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if filter.Start != nil {
		start = *filter.Start
	}
	end := now
	if filter.End != nil {
		end = *filter.End
	}
	if end.Before(start) {
		return ConsumptionReport{}, apperror.Validation("end_date must not be before start_date")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTopMaterials
	}

	periods, err := s.repo.ConsumptionByPeriod(ctx, groupBy, start, end)
	if err != nil {
		return ConsumptionReport{}, fmt.Errorf("database error: %w", err)
	}
	top, err := s.repo.TopMaterials(ctx, start, end, limit)
	if err != nil {
		return ConsumptionReport{}, fmt.Errorf("database error: %w", err)
	}
	if periods == nil {
		periods = []model.PeriodConsumption{}
	}
	if top == nil {
		top = []model.MaterialRanking{}
	}

	return ConsumptionReport{
		GroupBy:      groupBy,
		Start:        formatTime(start),
		End:          formatTime(end),
		Periods:      periods,
		TopMaterials: top,
	}, nil
}
