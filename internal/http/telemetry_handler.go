package httpapi

import (
	"net/http"
	"time"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// TelemetryHandler 设备上报边界
// 不经过用户认证中间件：设备以 device_token 自证身份
type TelemetryHandler struct {
	telemetry *service.TelemetryService
	logger    *zap.Logger
}

func NewTelemetryHandler(telemetry *service.TelemetryService, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{telemetry: telemetry, logger: logger}
}

// Ingest POST /api/v1/telemetry
// 请求体 {device_token, data}；响应携带合并后的完整遥测，设备据此读回引脚指令
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		DeviceToken string         `json:"device_token"`
		Data        map[string]any `json:"data"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}
	if body.DeviceToken == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_token required"))
		return
	}

	resp, err := h.telemetry.Ingest(r.Context(), service.IngestRequest{
		DeviceToken: body.DeviceToken,
		Data:        body.Data,
	})
	if err != nil {
		h.logger.Warn("telemetry ingest rejected", zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id": resp.DeviceID,
		"data":      resp.Data,
		"led_state": resp.LED,
	}))
}

// Latest GET /api/v1/telemetry/latest?device_token=...
func (h *TelemetryHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("device_token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_token required"))
		return
	}

	resp, err := h.telemetry.Latest(r.Context(), service.LatestRequest{DeviceToken: token})
	if err != nil {
		writeError(w, err)
		return
	}

	result := map[string]any{
		"device_id": resp.DeviceID,
		"data":      resp.Data,
	}
	if resp.LastActive != nil {
		result["last_active"] = resp.LastActive.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, Ok(result))
}
