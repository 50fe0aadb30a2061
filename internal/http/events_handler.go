package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"thingsnxt/internal/events"

	"go.uber.org/zap"
)

// EventsHandler 全局事件流（SSE）
// 跨用户/管理侧观察者订阅全局总线；通道本身不做认证
type EventsHandler struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewEventsHandler(bus *events.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// ServeHTTP GET /events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, Fail("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	// 连接确认帧
	hello := map[string]any{
		"type":      "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeSSE(w, hello); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			// 客户端断开或订阅被关闭
			return
		}
		if err := writeSSE(w, event); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
