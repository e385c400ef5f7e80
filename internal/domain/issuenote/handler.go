package issuenote

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
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
	read := api.Group("/issue-notes", auth.RequireRole(auth.RoleNurse, auth.RolePharmacist, auth.RoleSupervisor))
	read.GET("", h.List)
	read.GET("/:id", h.Get)
	read.POST("/:id/confirm", h.Confirm)

	pharmacy := api.Group("/issue-notes", auth.RequireRole(auth.RolePharmacist))
	pharmacy.POST("", h.Receive)
	pharmacy.PUT("/:code/upstream", h.UpdateUpstream)
}

func (h *Handler) Receive(c echo.Context) error {
	var n IssueNote
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Receive(c.Request().Context(), &n); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

type upstreamRequest struct {
	Status UpstreamStatus  `json:"status"`
	Items  []IssueNoteItem `json:"items,omitempty"`
}

func (h *Handler) UpdateUpstream(c echo.Context) error {
	var req upstreamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Status = UpstreamStatus(strings.ToUpper(string(req.Status)))
	n, err := h.svc.UpdateUpstream(c.Request().Context(), c.Param("code"), req.Status, req.Items)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

type confirmRequest struct {
	Items []CountedItem `json:"items"`
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	n, err := h.svc.ConfirmReceipt(c.Request().Context(), id, req.Items, actor)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := WardStatus(strings.ToUpper(c.QueryParam("status")))
	notes, total, err := h.svc.List(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(notes, total, pg))
}
