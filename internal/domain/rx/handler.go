package rx

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	read := api.Group("/rx", auth.RequireRole(auth.RoleNurse, auth.RolePhysician, auth.RolePharmacist, auth.RoleSupervisor))
	read.GET("/inbox", h.Inbox)
	read.GET("/:patient/applied", h.Applied)

	clinician := api.Group("/rx", auth.RequireRole(auth.RolePhysician, auth.RolePharmacist, auth.RoleSupervisor))
	clinician.POST("/versions", h.ReceiveVersion)
	clinician.POST("/:patient/diff", h.Diff)
	clinician.POST("/:patient/apply", h.Apply)
	clinician.POST("/:patient/reject", h.Reject)
}

func (h *Handler) ReceiveVersion(c echo.Context) error {
	var v OrderVersion
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReceiveVersion(c.Request().Context(), &v); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusAccepted, v)
}

func (h *Handler) Diff(c echo.Context) error {
	item, err := h.svc.Diff(c.Request().Context(), c.Param("patient"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Apply(c echo.Context) error {
	var ack Acknowledgement
	if err := c.Bind(&ack); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Apply(c.Request().Context(), c.Param("patient"), ack, actor)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	if err := h.svc.Reject(c.Request().Context(), c.Param("patient"), req.Reason, actor); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Inbox(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Inbox(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Applied(c echo.Context) error {
	v, err := h.svc.Applied(c.Request().Context(), c.Param("patient"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
