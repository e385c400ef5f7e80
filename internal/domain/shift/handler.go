package shift

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/platform/apperr"
	"github.com/ehr/wardmed/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/shifts", auth.RequireRole(auth.RoleNurse, auth.RolePharmacist, auth.RoleSupervisor))
	read.GET("/:shift/:date", h.GetSummary)
	read.GET("/:shift/:date/audit", h.Audit)
	read.POST("/:shift/:date/close", h.Close)

	supervisor := api.Group("/shifts", auth.RequireRole(auth.RoleSupervisor))
	supervisor.POST("/:shift/:date/reopen", h.Reopen)
}

func shiftParams(c echo.Context) (mar.ShiftType, string, error) {
	shift, err := mar.ParseShiftType(c.Param("shift"))
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := mar.ParseShiftDate(c.Param("date"))
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return shift, date, nil
}

func (h *Handler) GetSummary(c echo.Context) error {
	shift, date, err := shiftParams(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.GetSummary(c.Request().Context(), shift, date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Close(c echo.Context) error {
	shift, date, err := shiftParams(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Close(c.Request().Context(), shift, date, actor)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reopen(c echo.Context) error {
	shift, date, err := shiftParams(c)
	if err != nil {
		return err
	}
	var req reopenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Reopen(c.Request().Context(), shift, date, req.Reason, actor)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Audit(c echo.Context) error {
	shift, date, err := shiftParams(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.Audit(c.Request().Context(), shift, date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
