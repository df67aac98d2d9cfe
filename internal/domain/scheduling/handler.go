package scheduling

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medsched/medsched/internal/platform/auth"
)

// StaleHeader marks availability served from the stale cache copy.
const StaleHeader = "X-Availability-Stale"

type Handler struct {
	svc      *Service
	resolver *Resolver
}

func NewHandler(svc *Service, resolver *Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Availability – any signed-in user
	readGroup := api.Group("/schedules", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleReceptionist))
	readGroup.GET("/doctor/:doctorId/available-slots/:date", h.AvailableSlots)
	readGroup.GET("/doctor/:doctorId/available-slots", h.AvailableSlotsForRange)
	readGroup.GET("/available-slots/:date", h.AvailableSlotsForDoctors)

	// Own schedules – doctors
	mine := api.Group("/schedules", auth.RequireRole(auth.RoleDoctor))
	mine.GET("/my-schedules", h.ListMySchedules)
	mine.GET("/my-schedule/check/:date", h.CheckMySchedule)
	mine.POST("/my-schedule", h.CreateMySchedule)
	mine.PUT("/my-schedule/:id", h.UpdateMySchedule)
	mine.DELETE("/my-schedule/:id", h.DeleteMySchedule)
}

// HTTPError maps scheduling errors to HTTP statuses.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrSlotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDuplicateSchedule),
		errors.Is(err, ErrCapacityConflict),
		errors.Is(err, ErrHasActiveBookings),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotFull):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func currentDoctor(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUID(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return id, nil
}

func parseDateParam(c echo.Context, name string) (Date, error) {
	d, err := ParseDate(c.Param(name))
	if err != nil {
		return Date{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return d, nil
}

func writeAvailability(c echo.Context, av *Availability) error {
	if av.Stale {
		c.Response().Header().Set(StaleHeader, "true")
	}
	return c.JSON(http.StatusOK, av.Slots)
}

// -- Availability --

func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
	}
	date, err := parseDateParam(c, "date")
	if err != nil {
		return err
	}
	av, err := h.resolver.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return HTTPError(err)
	}
	return writeAvailability(c, av)
}

func (h *Handler) AvailableSlotsForRange(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
	}
	start, err := ParseDate(c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start: "+err.Error())
	}
	end, err := ParseDate(c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end: "+err.Error())
	}
	av, err := h.resolver.AvailableSlotsForRange(c.Request().Context(), doctorID, start, end)
	if err != nil {
		return HTTPError(err)
	}
	return writeAvailability(c, av)
}

// maxFanOutDoctors caps doctor_ids on one request.
const maxFanOutDoctors = 50

func (h *Handler) AvailableSlotsForDoctors(c echo.Context) error {
	date, err := parseDateParam(c, "date")
	if err != nil {
		return err
	}
	raw := c.QueryParam("doctor_ids")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_ids is required")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxFanOutDoctors {
		return echo.NewHTTPError(http.StatusBadRequest, "too many doctor_ids")
	}
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id: "+p)
		}
		ids = append(ids, id)
	}
	av, err := h.resolver.AvailableSlotsForDoctors(c.Request().Context(), ids, date)
	if err != nil {
		return HTTPError(err)
	}
	return writeAvailability(c, av)
}

// -- Own schedules --

func (h *Handler) ListMySchedules(c echo.Context) error {
	doctorID, err := currentDoctor(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByDoctor(c.Request().Context(), doctorID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CheckMySchedule(c echo.Context) error {
	doctorID, err := currentDoctor(c)
	if err != nil {
		return err
	}
	date, err := parseDateParam(c, "date")
	if err != nil {
		return err
	}
	res, err := h.svc.Exists(c.Request().Context(), doctorID, date)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type createRequest struct {
	Date      Date       `json:"date"`
	TimeSlots []TimeSlot `json:"timeSlots" validate:"max=288"`
	IsActive  *bool      `json:"isActive"`
	Notes     *string    `json:"notes" validate:"omitempty,max=2000"`
}

func (h *Handler) CreateMySchedule(c echo.Context) error {
	doctorID, err := currentDoctor(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	sched, err := h.svc.Create(c.Request().Context(), doctorID, CreateInput{
		Date:      req.Date,
		TimeSlots: req.TimeSlots,
		IsActive:  req.IsActive,
		Notes:     req.Notes,
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sched)
}

type updateRequest struct {
	TimeSlots *[]TimeSlot `json:"timeSlots" validate:"omitempty,max=288"`
	IsActive  *bool       `json:"isActive"`
	Notes     *string     `json:"notes" validate:"omitempty,max=2000"`
}

func (h *Handler) UpdateMySchedule(c echo.Context) error {
	doctorID, err := currentDoctor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	sched, err := h.svc.Update(c.Request().Context(), doctorID, id, UpdateInput{
		TimeSlots: req.TimeSlots,
		IsActive:  req.IsActive,
		Notes:     req.Notes,
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteMySchedule(c echo.Context) error {
	doctorID, err := currentDoctor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), doctorID, id); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
