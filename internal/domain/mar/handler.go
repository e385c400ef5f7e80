package mar

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
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
	read := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician, auth.RolePharmacist, auth.RoleSupervisor))
	read.GET("/mar", h.ListByShift)
	read.GET("/mar/:id", h.Get)
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/:id/items", h.ListByVisit)
	read.GET("/visits/:id/summary", h.VisitSummary)

	bedside := api.Group("/mar", auth.RequireRole(auth.RoleNurse, auth.RoleSupervisor))
	bedside.POST("/:id/prepare", h.Prepare)
	bedside.POST("/:id/administer", h.Administer)
	bedside.POST("/:id/exception", h.MarkException)
	bedside.POST("/:id/reschedule", h.Reschedule)
	bedside.POST("/:id/return", h.ReturnToStock)
	bedside.POST("/:id/undo", h.Undo)

	admin := api.Group("/visits", auth.RequireRole(auth.RoleSupervisor))
	admin.POST("", h.Admit)
	admin.POST("/:id/discharge", h.Discharge)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// transition parses the item id and actor, then runs fn.
func (h *Handler) transition(c echo.Context, fn func(id uuid.UUID, actor string) (*MARItem, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	it, err := fn(id, actor)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) Prepare(c echo.Context) error {
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.Prepare(c.Request().Context(), id, actor)
	})
}

func (h *Handler) Administer(c echo.Context) error {
	var in AdministerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.Administer(c.Request().Context(), id, in, actor)
	})
}

type exceptionRequest struct {
	Kind       Status `json:"kind"`
	ReasonCode string `json:"reason_code"`
	Note       string `json:"note"`
}

func (h *Handler) MarkException(c echo.Context) error {
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind := Status(strings.ToUpper(string(req.Kind)))
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.MarkException(c.Request().Context(), id, kind, req.ReasonCode, req.Note, actor)
	})
}

func (h *Handler) Reschedule(c echo.Context) error {
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.Reschedule(c.Request().Context(), id, actor)
	})
}

type returnRequest struct {
	Quantity   decimal.Decimal `json:"quantity"`
	ReasonCode string          `json:"reason_code"`
	Note       string          `json:"note"`
}

func (h *Handler) ReturnToStock(c echo.Context) error {
	var req returnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.ReturnToStock(c.Request().Context(), id, req.Quantity, req.ReasonCode, req.Note, actor)
	})
}

func (h *Handler) Undo(c echo.Context) error {
	return h.transition(c, func(id uuid.UUID, actor string) (*MARItem, error) {
		return h.svc.UndoAdministration(c.Request().Context(), id, actor)
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	it, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) ListByShift(c echo.Context) error {
	shift, err := ParseShiftType(c.QueryParam("shift"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := ParseShiftDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.ListByShift(c.Request().Context(), shift, date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Admit(c echo.Context) error {
	var v MedVisit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Admit(c.Request().Context(), &v); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListVisits(c.Request().Context(), c.QueryParam("ward"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg))
}

func (h *Handler) ListByVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByVisit(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) VisitSummary(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.VisitSummary(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
