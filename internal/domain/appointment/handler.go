package appointment

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the appointment endpoints on api. Callers are
// expected to have applied session middleware to the group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments", h.CreateAppointment)
	api.POST("/appointments/validate", h.ValidateAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment)
	api.PATCH("/appointments/:id", h.PatchAppointment)
	api.DELETE("/appointments/:id", h.DeleteAppointment)
	api.GET("/specialties", h.ListSpecialties)
}

type validationResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields"`
}

type validateResult struct {
	Valid  bool         `json:"valid"`
	Fields []FieldError `json:"fields"`
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return h.storeError(err)
	}
	resp := pagination.NewResponse(pagination.Window(items, pg), len(items), pg)
	resp.Links = pg.Links(c.Request().URL.Path, len(items))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, found, err := h.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.storeError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	in := DefaultInput()
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// UpdateAppointment replaces every editable field of the record, as the
// intake form does when saving an edit.
func (h *Handler) UpdateAppointment(c echo.Context) error {
	in := DefaultInput()
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errs := Validate(in); len(errs) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{Error: "validation failed", Fields: errs})
	}
	return h.update(c, PatchFromInput(in))
}

func (h *Handler) PatchAppointment(c echo.Context) error {
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.update(c, p)
}

func (h *Handler) update(c echo.Context, p Patch) error {
	a, found, err := h.svc.Update(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return h.writeError(c, err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	removed, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.storeError(err)
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateAppointment checks a draft without storing it.
func (h *Handler) ValidateAppointment(c echo.Context) error {
	in := DefaultInput()
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	errs := Validate(in)
	if errs == nil {
		errs = []FieldError{}
	}
	return c.JSON(http.StatusOK, validateResult{Valid: len(errs) == 0, Fields: errs})
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": Specialties})
}

func (h *Handler) writeError(c echo.Context, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{Error: "validation failed", Fields: ve.Fields})
	}
	return h.storeError(err)
}

func (h *Handler) storeError(err error) error {
	if errors.Is(err, ErrInvalidID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "appointment store unavailable").SetInternal(err)
}
