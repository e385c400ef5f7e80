package reason

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reasons", h.List)
}

func (h *Handler) List(c echo.Context) error {
	t := Type(strings.ToUpper(c.QueryParam("type")))
	if t != "" && !t.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reason type")
	}
	return c.JSON(http.StatusOK, h.catalog.List(t))
}
