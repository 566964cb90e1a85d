package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/diagconfig/internal/platform/apierror"
	"github.com/ehr/diagconfig/internal/platform/auth"
)

type Handler struct {
	svc *StatusService
}

func NewHandler(svc *StatusService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/catalog", auth.RequireRole(auth.RoleAdmin))
	g.PUT("/:entity/:id/status", h.ChangeStatus)
}

type statusRequest struct {
	Status Status `json:"status"`
}

type statusResponse struct {
	Entity  Entity    `json:"entity"`
	ID      uuid.UUID `json:"id"`
	Status  Status    `json:"status"`
	Changed bool      `json:"changed"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	entity := Entity(c.Param("entity"))
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierror.BadRequest("invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(err.Error())
	}
	changed, err := h.svc.ChangeStatus(c.Request().Context(), entity, id, req.Status)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Entity: entity, ID: id, Status: req.Status, Changed: changed})
}

// AllowListHandler serves the capability allow-lists.
type AllowListHandler struct {
	svc *AllowListService
}

func NewAllowListHandler(svc *AllowListService) *AllowListHandler {
	return &AllowListHandler{svc: svc}
}

func (h *AllowListHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/capabilities/:id")
	g.GET("/:list", h.List, auth.RequireRole(auth.RoleAdmin, auth.RoleViewer))
	g.POST("/:list", h.Add, auth.RequireRole(auth.RoleAdmin))
	g.DELETE("/:list/:linkId", h.Remove, auth.RequireRole(auth.RoleAdmin))
}

type allowanceRequest struct {
	RefID uuid.UUID `json:"refId"`
}

func allowListParams(c echo.Context) (Entity, uuid.UUID, error) {
	list, err := ParseAllowList(c.Param("list"))
	if err != nil {
		return "", uuid.Nil, apierror.From(err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", uuid.Nil, apierror.BadRequest("invalid capability id")
	}
	return list, id, nil
}

func (h *AllowListHandler) List(c echo.Context) error {
	list, capID, err := allowListParams(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.List(c.Request().Context(), list, capID)
	if err != nil {
		return apierror.From(err)
	}
	if rows == nil {
		rows = []Allowance{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *AllowListHandler) Add(c echo.Context) error {
	list, capID, err := allowListParams(c)
	if err != nil {
		return err
	}
	var req allowanceRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(err.Error())
	}
	a, err := h.svc.Add(c.Request().Context(), list, capID, req.RefID)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *AllowListHandler) Remove(c echo.Context) error {
	list, capID, err := allowListParams(c)
	if err != nil {
		return err
	}
	linkID, err := uuid.Parse(c.Param("linkId"))
	if err != nil {
		return apierror.BadRequest("invalid link id")
	}
	if err := h.svc.Remove(c.Request().Context(), list, capID, linkID); err != nil {
		return apierror.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}
