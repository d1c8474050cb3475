package handler

import (
	"net/http"
	"strconv"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/middleware"
	"stockroom/internal/model"
	"stockroom/internal/service"
	"stockroom/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Authenticator
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Authenticator) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	statsGroup.Use(h.auth.RequireRole(model.RoleAdmin))
	{
		statsGroup.GET("/consumption", h.GetConsumption)
	}
}

// @Summary      Material consumption
// @Description  Units drawn by approved requests per period, plus the most drawn materials. Defaults to the current month.
// @Tags         statistics
// @Produce      json
// @Param        group_by    query  string  false  "week, month (default), quarter or year"
// @Param        start_date  query  string  false  "Start Date (RFC3339)"
// @Param        end_date    query  string  false  "End Date (RFC3339)"
// @Param        limit       query  int     false  "Number of top materials (default 10)"
// @Success      200  {object}  response.Response{data=service.ConsumptionReport}
// @Failure      400  {object}  response.Response  "Invalid date format"
// @Failure      403  {object}  response.Response
// @Security     BearerAuth
// @Router       /api/statistics/consumption [get]
func (h *StatisticsHandler) GetConsumption(c *gin.Context) {
	filter := service.ConsumptionFilter{GroupBy: c.Query("group_by")}

	var err error
	if filter.Start, err = parseDateParam(c, "start_date"); err != nil {
		respondError(c, err)
		return
	}
	if filter.End, err = parseDateParam(c, "end_date"); err != nil {
		respondError(c, err)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			respondError(c, apperror.Validation("limit must be a number"))
			return
		}
	}

	report, err := h.statisticsService.Consumption(c.Request.Context(), callerFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

func parseDateParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation("invalid %s format, expected RFC3339", name)
	}
	return &t, nil
}
