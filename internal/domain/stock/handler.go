package stock

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/auth"
	"github.com/ehr/wardmed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/stock", auth.RequireRole(auth.RoleNurse, auth.RolePharmacist, auth.RoleSupervisor))
	read.GET("", h.ListEntries)
	read.GET("/low", h.LowStock)
	read.GET("/:drug/history", h.History)
	read.GET("/:drug/available", h.Available)

	write := api.Group("/stock", auth.RequireRole(auth.RolePharmacist, auth.RoleSupervisor))
	write.POST("/transactions", h.ApplyTransaction)
	write.POST("/:drug/:lot/threshold", h.SetThreshold)
	write.GET("/verify", h.Verify)
}

func (h *Handler) ListEntries(c echo.Context) error {
	entries, err := h.svc.ListEntries(c.Request().Context(), c.QueryParam("drug"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) LowStock(c echo.Context) error {
	entries, err := h.svc.LowStock(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) History(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetHistory(c.Request().Context(), c.Param("drug"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Available(c echo.Context) error {
	qty, err := h.svc.Available(c.Request().Context(), c.Param("drug"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"drug_code": c.Param("drug"),
		"available": qty,
	})
}

func (h *Handler) ApplyTransaction(c echo.Context) error {
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	in.Actor = actor

	entry, err := h.svc.ApplyTransaction(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

type thresholdRequest struct {
	MinThreshold decimal.Decimal `json:"min_threshold"`
}

func (h *Handler) SetThreshold(c echo.Context) error {
	var req thresholdRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.SetThreshold(c.Request().Context(), c.Param("drug"), c.Param("lot"), req.MinThreshold)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Verify(c echo.Context) error {
	checked, violations, err := h.svc.VerifyAll(c.Request().Context(), c.QueryParam("drug"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"checked":    checked,
		"ok":         len(violations) == 0,
		"violations": msgs,
	})
}
