package order

import (
	"encoding/json"
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

// RegisterRoutes mounts the order endpoints. advisorMW wraps the
// model-backed suggestion route (rate limiting, longer timeout).
func (h *Handler) RegisterRoutes(api *echo.Group, advisorMW ...echo.MiddlewareFunc) {
	g := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePracticeAdmin, auth.RoleAdmin))
	g.GET("/orders/:id", h.GetOrder)
	g.GET("/orders/:id/revisions", h.ListRevisions)
	g.PATCH("/orders/:id", h.UpdateOrder)
	g.POST("/orders/:id/submit", h.SubmitDraft)
	g.POST("/orders/:id/suggestions", h.GenerateSuggestions, advisorMW...)
}

type updateRequest struct {
	Updates             map[string]json.RawMessage `json:"updates"`
	AcceptAISuggestions bool                       `json:"accept_ai_suggestions"`
	Reason              *string                    `json:"reason"`
}

type updateResponse struct {
	OK            bool      `json:"ok"`
	Message       string    `json:"message"`
	ChangesCount  int       `json:"changes_count"`
	IgnoredFields []string  `json:"ignored_fields,omitempty"`
	Revision      *Revision `json:"revision,omitempty"`
}

func actorFrom(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return a, nil
}

// writeError maps service errors onto the response shapes clients expect.
func writeError(c echo.Context, err error) error {
	var denied *DeniedError
	var invalid *InvalidStateError
	switch {
	case errors.As(err, &denied):
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"ok": false, "code": denied.Code, "error": denied.Reason,
		})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"ok": false, "error": invalid.Error(),
		})
	case errors.Is(err, ErrNoUpdates):
		return echo.NewHTTPError(http.StatusBadRequest, "No updates provided")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrAdvisorUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"ok": false, "error": "Suggestion service is temporarily unavailable", "retryable": true,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func (h *Handler) GetOrder(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListRevisions(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Revisions(c.Request().Context(), actor, c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []*Revision{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateOrder(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var body updateRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}

	req := EditRequest{
		Updates:             make(map[string]*string, len(body.Updates)),
		AcceptAISuggestions: body.AcceptAISuggestions,
		Reason:              body.Reason,
	}
	for k, raw := range body.Updates {
		v, err := NormalizeValue(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid value for "+k)
		}
		req.Updates[k] = v
	}

	res, err := h.svc.ApplyEdit(c.Request().Context(), actor, c.Param("id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updateResponse{
		OK:            true,
		Message:       res.Message,
		ChangesCount:  res.ChangesCount,
		IgnoredFields: res.IgnoredFields,
		Revision:      res.Revision,
	})
}

func (h *Handler) SubmitDraft(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	o, err := h.svc.SubmitDraft(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":       true,
		"message":  MsgSubmitted,
		"order_id": o.ID,
	})
}

func (h *Handler) GenerateSuggestions(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	set, err := h.svc.GenerateSuggestions(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":          true,
		"suggestions": set,
	})
}
