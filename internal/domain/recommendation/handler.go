package recommendation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the recommendation endpoint on the authenticated
// group and the engine status on the public one.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	api.POST("/llm/recomendacion", h.Recommend)
	public.GET("/llm/estado", h.Status)
}

type recommendBody struct {
	Prompt string `json:"prompt"`
}

func queryFlag(c echo.Context, name string) bool {
	return c.QueryParam(name) == "1"
}

func (h *Handler) Recommend(c echo.Context) error {
	var body recommendBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := h.svc.Recommend(c.Request().Context(), Request{
		Prompt: body.Prompt,
		Mode:   ParseMode(c.QueryParam("tipo")),
		Fast:   queryFlag(c, "fast"),
		Force:  queryFlag(c, "forceOllama"),
		Debug:  queryFlag(c, "debug"),
	})
	if err == nil {
		return c.JSON(http.StatusOK, p)
	}

	name := h.svc.EngineName()
	var unavailable *UnavailableError
	switch {
	case errors.Is(err, ErrPromptRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"mensaje":              "El prompt es requerido.",
			"lm_studio_disponible": false,
		})
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"mensaje":              "Error al conectar con " + name,
			"lm_studio_disponible": false,
			"error":                unavailable.Err.Error(),
		})
	case errors.Is(err, ErrNoModel):
		return c.JSON(http.StatusNotFound, echo.Map{
			"mensaje":              name + " está conectado pero no hay modelo cargado.",
			"lm_studio_disponible": true,
			"modelo_cargado":       nil,
		})
	default:
		cause := err
		if u := errors.Unwrap(err); u != nil {
			cause = u
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"mensaje":              "Error al consultar " + name + " para obtener recomendación",
			"lm_studio_disponible": false,
			"error":                cause.Error(),
		})
	}
}

func (h *Handler) Status(c echo.Context) error {
	st := h.svc.Status(c.Request().Context())
	if !st.Available {
		body := echo.Map{"lm_studio_disponible": false, "mensaje": st.Message}
		if st.Err != nil {
			body["error"] = st.Err.Error()
		}
		return c.JSON(http.StatusOK, body)
	}

	var model *string
	if st.Model != "" {
		model = &st.Model
	}
	return c.JSON(http.StatusOK, echo.Map{
		"lm_studio_disponible": true,
		"modelo_cargado":       model,
		"mensaje":              st.Message,
	})
}
