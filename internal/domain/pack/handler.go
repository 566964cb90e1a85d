package pack

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/ehr/diagconfig/internal/platform/apierror"
	"github.com/ehr/diagconfig/internal/platform/auth"
	"github.com/ehr/diagconfig/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleViewer))
	readGroup.GET("/diagnostic-packs", h.ListPacks)
	readGroup.GET("/diagnostic-packs/:id", h.GetPack)
	readGroup.GET("/diagnostic-packs/:id/versions", h.ListVersions)
	readGroup.GET("/diagnostic-pack-versions/:id", h.GetVersion)
	readGroup.GET("/diagnostic-pack-applications/:id", h.GetApplication)
	readGroup.GET("/branches/:branchId/diagnostic-pack-applications", h.ListApplications)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/diagnostic-packs", h.CreatePack)
	writeGroup.PATCH("/diagnostic-packs/:id", h.UpdatePack)
	writeGroup.POST("/diagnostic-packs/:id/versions", h.CreateVersion)
	writeGroup.PATCH("/diagnostic-pack-versions/:id", h.UpdateVersion)
	writeGroup.POST("/diagnostic-packs/apply", h.Apply)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apierror.BadRequest("invalid " + name)
	}
	return id, nil
}

// =========== Packs ===========

type createPackRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	LabType     *string `json:"labType"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

func (h *Handler) CreatePack(c echo.Context) error {
	var req createPackRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(err.Error())
	}
	p := &Pack{
		Code:        req.Code,
		Name:        req.Name,
		LabType:     req.LabType,
		Description: req.Description,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := h.svc.CreatePack(c.Request().Context(), p); err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPack(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPack(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPacks(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PackFilter{LabType: c.QueryParam("labType")}
	if v := c.QueryParam("includeInactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apierror.BadRequest("includeInactive must be a boolean")
		}
		f.IncludeInactive = b
	}
	packs, total, err := h.svc.ListPacks(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(packs, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePack(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var u PackUpdate
	if err := c.Bind(&u); err != nil {
		return apierror.BadRequest(err.Error())
	}
	p, err := h.svc.UpdatePack(c.Request().Context(), id, u)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, p)
}

// =========== Versions ===========

func (h *Handler) CreateVersion(c echo.Context) error {
	packID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in VersionInput
	if err := c.Bind(&in); err != nil {
		return apierror.BadRequest(err.Error())
	}
	v, err := h.svc.CreateVersion(c.Request().Context(), packID, in)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVersions(c echo.Context) error {
	packID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var status *VersionStatus
	if s := c.QueryParam("status"); s != "" {
		vs := VersionStatus(s)
		status = &vs
	}
	versions, err := h.svc.ListVersions(c.Request().Context(), packID, status)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": versions})
}

func (h *Handler) GetVersion(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.GetVersion(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateVersion(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var u VersionUpdate
	if err := c.Bind(&u); err != nil {
		return apierror.BadRequest(err.Error())
	}
	v, err := h.svc.UpdateVersion(c.Request().Context(), id, u)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, v)
}

// =========== Apply ===========

// Apply answers 204 with the audit record in Location.
func (h *Handler) Apply(c echo.Context) error {
	var req ApplyRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(err.Error())
	}
	ctx := c.Request().Context()
	req.AppliedBy = auth.UserIDFromContext(ctx)
	app, err := h.svc.Apply(ctx, req)
	if err != nil {
		return apierror.From(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/diagnostic-pack-applications/"+app.ID.String())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetApplication(c echo.Context) error {
	id, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		return apierror.BadRequest("invalid id")
	}
	app, err := h.svc.GetApplication(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, app)
}

func (h *Handler) ListApplications(c echo.Context) error {
	branchID, err := uuidParam(c, "branchId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	apps, total, err := h.svc.ListApplications(c.Request().Context(), branchID, pg.Limit, pg.Offset)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(apps, total, pg.Limit, pg.Offset))
}
