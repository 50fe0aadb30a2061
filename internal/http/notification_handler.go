package httpapi

import (
	"net/http"
	"strings"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// NotificationHandler 通知 Handler
type NotificationHandler struct {
	notifications *service.NotificationService
	logger        *zap.Logger
}

func NewNotificationHandler(notifications *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
// /api/v1/notifications、/api/v1/notifications/{id}/read
func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/notifications" && r.Method == http.MethodGet:
		h.List(w, r)
	case strings.HasSuffix(r.URL.Path, "/read") && r.Method == http.MethodPost:
		h.MarkRead(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := h.notifications.List(r.Context(), claims.UserID, unreadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(notifications))
	for i, n := range notifications {
		out[i] = n.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/notifications/"), "/read")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id, claims.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"read": id}))
}
