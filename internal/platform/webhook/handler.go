package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the webhook configuration and delivery log.
type Handler struct {
	pub *Publisher
}

func NewHandler(pub *Publisher) *Handler {
	return &Handler{pub: pub}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/webhooks", h.ListEndpoints)
	g.GET("/webhooks/deliveries", h.ListDeliveries)
}

func (h *Handler) ListEndpoints(c echo.Context) error {
	eps := h.pub.Endpoints()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  eps,
		"total": len(eps),
	})
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	ds := h.pub.Deliveries()
	if status := c.QueryParam("status"); status != "" {
		filtered := ds[:0]
		for _, d := range ds {
			if d.Status == status {
				filtered = append(filtered, d)
			}
		}
		ds = filtered
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  ds,
		"total": len(ds),
	})
}
