package httpapi

import (
	"net/http"
	"strings"
	"time"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// ScheduleHandler 定时动作 Handler
type ScheduleHandler struct {
	schedules *service.ScheduleService
	logger    *zap.Logger
}

func NewScheduleHandler(schedules *service.ScheduleService, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
// /api/v1/schedules、/api/v1/schedules/timer、/api/v1/schedules/{id}、/api/v1/schedules/{id}/cancel
func (h *ScheduleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/schedules" && r.Method == http.MethodGet:
		h.List(w, r)
	case r.URL.Path == "/api/v1/schedules" && r.Method == http.MethodPost:
		h.Create(w, r)
	case r.URL.Path == "/api/v1/schedules/timer" && r.Method == http.MethodPost:
		h.CreateTimer(w, r)
	case strings.HasSuffix(r.URL.Path, "/cancel") && r.Method == http.MethodPost:
		h.Cancel(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/schedules/") && r.Method == http.MethodGet:
		h.Get(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	actions, err := h.schedules.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(actions))
	for i, a := range actions {
		out[i] = a.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		WidgetID  string `json:"widget_id"`
		State     bool   `json:"state"`
		ExecuteAt string `json:"execute_at"` // RFC3339
		Label     string `json:"label"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}
	executeAt, err := time.Parse(time.RFC3339, body.ExecuteAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("execute_at must be RFC3339"))
		return
	}

	a, err := h.schedules.Create(r.Context(), service.CreateScheduleRequest{
		UserID:    claims.UserID,
		WidgetID:  body.WidgetID,
		State:     body.State,
		ExecuteAt: executeAt,
		Label:     body.Label,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(a.ToJSON()))
}

func (h *ScheduleHandler) CreateTimer(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		WidgetID        string `json:"widget_id"`
		State           bool   `json:"state"`
		DurationSeconds int    `json:"duration_seconds"`
		Label           string `json:"label"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}

	a, err := h.schedules.CreateTimer(r.Context(), service.CreateTimerRequest{
		UserID:          claims.UserID,
		WidgetID:        body.WidgetID,
		State:           body.State,
		DurationSeconds: body.DurationSeconds,
		Label:           body.Label,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(a.ToJSON()))
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a, err := h.schedules.Get(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(a.ToJSON()))
}

// Cancel POST /api/v1/schedules/{id}/cancel
// 已终态的动作返回 404（"not found or already processed"）
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/"), "/cancel")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.schedules.Cancel(r.Context(), claims.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"cancelled": id}))
}
