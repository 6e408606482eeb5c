package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/vitalcare/clinic/internal/platform/auth"
	"github.com/vitalcare/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	public.POST("/auth/register", h.Register)
	public.POST("/auth/login", h.Login)
	public.POST("/auth/patient-login", h.LoginPatient)

	api.GET("/auth/me", h.Me)
	api.GET("/auth/check-token", h.CheckToken)

	// Physicians manage their own patients; admins pass every role check.
	physician := api.Group("", auth.RequireRole(auth.RolePhysician))
	physician.POST("/patients", h.CreatePatient)
	physician.GET("/patients", h.ListMyPatients)
	physician.GET("/patients/:id", h.GetPatient)
	physician.GET("/patients/by-national-id/:national_id", h.GetPatientByNationalID)
	physician.PUT("/patients/:id", h.UpdatePatient)
	physician.PATCH("/patients/:id/status", h.SetPatientStatus)
	physician.DELETE("/patients/:id", h.DeletePatient)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.GET("/patients/me", h.Me)

	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/clinicians", h.ListClinicians)
	admin.POST("/clinicians", h.CreateClinician)
	admin.GET("/clinicians/:id", h.GetClinician)
	admin.PUT("/clinicians/:id", h.UpdateClinician)
	admin.PATCH("/clinicians/:id/status", h.SetClinicianStatus)
	admin.PATCH("/clinicians/:id/permissions", h.SetPermissions)
	admin.DELETE("/clinicians/:id", h.DeleteClinician)
	admin.GET("/clinicians/:id/patients", h.ListPatientsOf)
}

// httpError maps service errors to responses; what names the record for 404s.
func httpError(err error, what string) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInactive), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, pgx.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

// -- Sessions --

type loginRequest struct {
	Email      string `json:"email"`
	NationalID string `json:"national_id"`
	Password   string `json:"password"`
}

func (h *Handler) Register(c echo.Context) error {
	var cl Clinician
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterClinician(c.Request().Context(), &cl); err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	s, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) LoginPatient(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NationalID == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "national_id and password are required")
	}
	s, err := h.svc.LoginPatient(c.Request().Context(), req.NationalID, req.Password)
	if err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.CurrentUser(c.Request().Context())
	if err != nil {
		return httpError(err, "user")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) CheckToken(c echo.Context) error {
	u, err := h.svc.CurrentUser(c.Request().Context())
	if err != nil {
		return httpError(err, "user")
	}
	return c.JSON(http.StatusOK, map[string]any{"authenticated": true, "user": u})
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPatientByNationalID(c echo.Context) error {
	p, err := h.svc.GetPatientByNationalID(c.Request().Context(), c.Param("national_id"))
	if err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListMyPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListMyPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SetPatientStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetPatientStatus(c.Request().Context(), id, req.Status); err != nil {
		return httpError(err, "patient")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err, "patient")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Clinicians (admin) --

func (h *Handler) ListClinicians(c echo.Context) error {
	role := c.QueryParam("role")
	if role == "" {
		role = auth.RolePhysician
	}
	if role != auth.RolePhysician && role != auth.RoleAdmin {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be physician or admin")
	}
	pg := pagination.FromContext(c)
	clinicians, total, err := h.svc.ListClinicians(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(clinicians, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) CreateClinician(c echo.Context) error {
	var cl Clinician
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateClinician(c.Request().Context(), &cl); err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClinician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClinician(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateClinician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Clinician
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = id
	if err := h.svc.UpdateClinician(c.Request().Context(), &cl); err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SetClinicianStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetClinicianStatus(c.Request().Context(), id, req.Status); err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (h *Handler) SetPermissions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Permissions
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetPermissions(c.Request().Context(), id, p); err != nil {
		return httpError(err, "clinician")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "permissions": p})
}

func (h *Handler) DeleteClinician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteClinician(c.Request().Context(), id); err != nil {
		return httpError(err, "clinician")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatientsOf(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatientsOf(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}
