package httpapi

import (
	"net/http"
	"strings"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// WidgetHandler 控件管理与即时命令 Handler
type WidgetHandler struct {
	widgets   *service.WidgetService
	commands  *service.CommandService
	schedules *service.ScheduleService
	logger    *zap.Logger
}

func NewWidgetHandler(widgets *service.WidgetService, commands *service.CommandService, schedules *service.ScheduleService, logger *zap.Logger) *WidgetHandler {
	return &WidgetHandler{widgets: widgets, commands: commands, schedules: schedules, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
// /api/v1/widgets、/api/v1/widgets/{id}、/api/v1/widgets/{id}/command、
// /api/v1/widgets/{id}/schedules
func (h *WidgetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/widgets" && r.Method == http.MethodPost:
		h.Create(w, r)
	case strings.HasSuffix(r.URL.Path, "/command") && r.Method == http.MethodPost:
		h.Command(w, r)
	case strings.HasSuffix(r.URL.Path, "/schedules") && r.Method == http.MethodGet:
		h.Schedules(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/widgets/") && r.Method == http.MethodDelete:
		h.Delete(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *WidgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		DashboardID string         `json:"dashboard_id"`
		DeviceID    string         `json:"device_id"`
		Type        string         `json:"type"`
		Label       string         `json:"label"`
		Config      map[string]any `json:"config"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}
	if body.DashboardID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("dashboard_id required"))
		return
	}

	widget, err := h.widgets.Create(r.Context(), service.CreateWidgetRequest{
		UserID:      claims.UserID,
		DashboardID: body.DashboardID,
		DeviceID:    body.DeviceID,
		Type:        body.Type,
		Label:       body.Label,
		Config:      body.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(widget.ToJSON()))
}

func (h *WidgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/widgets/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.widgets.Delete(r.Context(), claims.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": id}))
}

// Schedules GET /api/v1/widgets/{id}/schedules
// 该控件上的定时动作列表（含已终态的）
func (h *WidgetHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/widgets/"), "/schedules")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actions, err := h.schedules.ListByWidget(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// Command POST /api/v1/widgets/{id}/command
// 请求体 {state: bool}，即时写控件的虚拟引脚
func (h *WidgetHandler) Command(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/widgets/"), "/command")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		State bool `json:"state"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}

	if err := h.widgets.AuthorizeAccess(r.Context(), claims.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	widget, err := h.commands.Execute(r.Context(), service.ExecuteRequest{
		UserID:   claims.UserID,
		WidgetID: id,
		State:    body.State,
	})
	if err != nil {
		h.logger.Warn("command failed", zap.String("widget_id", id), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(widget.ToJSON()))
}
