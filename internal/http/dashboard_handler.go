package httpapi

import (
	"net/http"
	"strings"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// DashboardHandler 仪表盘管理 Handler
type DashboardHandler struct {
	dashboards *service.DashboardService
	widgets    *service.WidgetService
	logger     *zap.Logger
}

func NewDashboardHandler(dashboards *service.DashboardService, widgets *service.WidgetService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards, widgets: widgets, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
// /api/v1/dashboards、/api/v1/dashboards/{id}、/api/v1/dashboards/{id}/widgets
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/dashboards" && r.Method == http.MethodGet:
		h.List(w, r)
	case r.URL.Path == "/api/v1/dashboards" && r.Method == http.MethodPost:
		h.Create(w, r)
	case strings.HasSuffix(r.URL.Path, "/widgets") && r.Method == http.MethodGet:
		h.ListWidgets(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/dashboards/") && r.Method == http.MethodDelete:
		h.Delete(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *DashboardHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	dashboards, err := h.dashboards.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(dashboards))
	for i, d := range dashboards {
		out[i] = d.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}
	d, err := h.dashboards.Create(r.Context(), service.CreateDashboardRequest{
		UserID:      claims.UserID,
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(d.ToJSON()))
}

func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/dashboards/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.dashboards.Delete(r.Context(), claims.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": id}))
}

// ListWidgets GET /api/v1/dashboards/{id}/widgets
func (h *DashboardHandler) ListWidgets(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/dashboards/"), "/widgets")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	widgets, err := h.widgets.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(widgets))
	for i, wd := range widgets {
		out[i] = wd.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}
