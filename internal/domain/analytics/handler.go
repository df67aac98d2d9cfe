package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/schedules", auth.RequireRole(auth.RoleDoctor))
	g.GET("/my-analytics", h.MyAnalytics)
}

func (h *Handler) MyAnalytics(c echo.Context) error {
	doctorID, err := auth.UserUUID(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	period, err := ParsePeriod(c.QueryParam("period"))
	if err != nil {
		return scheduling.HTTPError(err)
	}
	report, err := h.svc.Report(c.Request().Context(), doctorID, period)
	if err != nil {
		return scheduling.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}
