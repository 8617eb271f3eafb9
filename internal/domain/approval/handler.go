package approval

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medsupply/portal/internal/platform/auth"
	"github.com/medsupply/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scoring endpoints. scoringMW wraps the trigger
// route only.
func (h *Handler) RegisterRoutes(api *echo.Group, scoringMW ...echo.MiddlewareFunc) {
	g := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePracticeAdmin, auth.RoleAdmin))
	g.POST("/patients/:id/approval-score", h.RequestScore, scoringMW...)
	g.GET("/patients/:id/approval-score", h.GetCurrent)
	g.GET("/patients/:id/approval-scores", h.ListHistory)
}

type scoreResponse struct {
	OK       bool `json:"ok"`
	HasScore bool `json:"has_score"`
	*Record
}

func actorFrom(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return a, nil
}

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{"ok": false, "error": ErrPatientNotFound.Error()})
	case errors.Is(err, ErrScoringUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"ok": false, "error": "Approval scoring is temporarily unavailable", "retryable": true,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate approval score").SetInternal(err)
}

// RequestScore runs the scorer inline (mode=sync, the default) or queues it
// (mode=async).
func (h *Handler) RequestScore(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	switch c.QueryParam("mode") {
	case "", "sync":
		rec, err := h.svc.RunNow(ctx, actor, id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, scoreResponse{OK: true, HasScore: true, Record: rec})
	case "async":
		if err := h.svc.RequestAsync(ctx, actor, id); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]interface{}{"ok": true, "queued": true})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be sync or async")
	}
}

func (h *Handler) GetCurrent(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Current(c.Request().Context(), actor, c.Param("id"))
	if errors.Is(err, ErrNoScore) {
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "has_score": false})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, scoreResponse{OK: true, HasScore: true, Record: rec})
}

func (h *Handler) ListHistory(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), actor, c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
