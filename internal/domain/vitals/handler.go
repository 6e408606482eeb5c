package vitals

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/vitalcare/clinic/internal/domain/identity"
	"github.com/vitalcare/clinic/internal/platform/auth"
	"github.com/vitalcare/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinician := api.Group("/vitals", auth.RequireRole(auth.RolePhysician))
	clinician.POST("", h.Record)
	clinician.GET("/patients/:id", h.ListForPatient)
	clinician.GET("/patients/:id/summary", h.Summary)

	patient := api.Group("/vitals/me", auth.RequireRole(auth.RolePatient))
	patient.POST("", h.RecordOwn)
	patient.GET("", h.ListOwn)
	patient.GET("/summary", h.OwnSummary)
}

func httpError(err error) error {
	var ve *identity.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, identity.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, pgx.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

func days(c echo.Context) (int, error) {
	raw := c.QueryParam("days")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
	}
	return n, nil
}

func (h *Handler) Record(c echo.Context) error {
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	signs, err := h.svc.Record(c.Request().Context(), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, signs)
}

func (h *Handler) RecordOwn(c echo.Context) error {
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	signs, err := h.svc.RecordOwn(c.Request().Context(), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, signs)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	signs, total, err := h.svc.ListForPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(signs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ListOwn(c echo.Context) error {
	pg := pagination.FromContext(c)
	signs, total, err := h.svc.ListOwn(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(signs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Summary(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	n, err := days(c)
	if err != nil {
		return err
	}
	s, err := h.svc.Summary(c.Request().Context(), id, n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) OwnSummary(c echo.Context) error {
	n, err := days(c)
	if err != nil {
		return err
	}
	s, err := h.svc.OwnSummary(c.Request().Context(), n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}
