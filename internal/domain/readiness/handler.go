package readiness

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/diagconfig/internal/platform/apierror"
	"github.com/ehr/diagconfig/internal/platform/auth"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	analyzer *Analyzer
	now      func() time.Time
}

func NewHandler(analyzer *Analyzer) *Handler {
	return &Handler{analyzer: analyzer, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/branches/:branchId/diagnostics", auth.RequireRole(auth.RoleViewer))
	g.GET("/readiness", h.GetReport)
	g.GET("/readiness.xlsx", h.GetWorkbook)
}

type reportResponse struct {
	*Report
	Blockers int `json:"blockers"`
	Warnings int `json:"warnings"`
}

func (h *Handler) check(c echo.Context) (*Report, error) {
	branchID, err := uuid.Parse(c.Param("branchId"))
	if err != nil {
		return nil, apierror.BadRequest("invalid branchId")
	}
	r, err := h.analyzer.Check(c.Request().Context(), branchID)
	if err != nil {
		return nil, apierror.From(err)
	}
	return r, nil
}

func (h *Handler) GetReport(c echo.Context) error {
	r, err := h.check(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reportResponse{Report: r, Blockers: r.Blockers(), Warnings: r.Warnings()})
}

func (h *Handler) GetWorkbook(c echo.Context) error {
	r, err := h.check(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, r, h.now()); err != nil {
		return apierror.From(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="readiness-%s.xlsx"`, r.BranchID))
	return c.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}
