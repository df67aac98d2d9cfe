package appointment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/auth"
	"github.com/medsched/medsched/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleReceptionist))
	g.POST("", h.Book)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.ChangeStatus)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return scheduling.HTTPError(err)
}

func currentActor(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id, err := auth.UserUUID(ctx)
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return Actor{ID: id, Roles: auth.RolesFromContext(ctx)}, nil
}

// StartTime is a pointer so that an omitted value is rejected rather than
// read as midnight.
type bookRequest struct {
	DoctorID  uuid.UUID             `json:"doctorId"`
	PatientID uuid.UUID             `json:"patientId"`
	Date      scheduling.Date       `json:"date"`
	StartTime *scheduling.ClockTime `json:"startTime" validate:"required"`
	Reason    *string               `json:"reason" validate:"omitempty,max=500"`
	Notes     *string               `json:"notes" validate:"omitempty,max=2000"`
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.Book(c.Request().Context(), actor, BookRequest{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		StartTime: *req.StartTime,
		Reason:    req.Reason,
		Notes:     req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// listFilter reads the closed set of list query parameters.
func listFilter(c echo.Context) (ListFilter, pagination.Params, error) {
	var f ListFilter
	page, err := pagination.FromContext(c)
	if err != nil {
		return f, page, err
	}
	f.Limit, f.Offset = page.Limit, page.Offset

	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, page, errors.New("invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, page, errors.New("invalid patient_id")
		}
		f.PatientID = &id
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		f.Status = &st
	}
	if raw := c.QueryParam("from"); raw != "" {
		d, err := scheduling.ParseDate(raw)
		if err != nil {
			return f, page, err
		}
		f.From = &d
	}
	if raw := c.QueryParam("to"); raw != "" {
		d, err := scheduling.ParseDate(raw)
		if err != nil {
			return f, page, err
		}
		f.To = &d
	}
	return f, page, nil
}

func (h *Handler) List(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	f, page, err := listFilter(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page))
}

type statusRequest struct {
	Status Status  `json:"status" validate:"required"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	appt, err := h.svc.ChangeStatus(c.Request().Context(), actor, id, req.Status, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}
