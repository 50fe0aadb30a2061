package httpapi

import (
	"net/http"
	"strings"

	"thingsnxt/internal/service"

	"go.uber.org/zap"
)

// DeviceHandler 设备管理 Handler
type DeviceHandler struct {
	devices *service.DeviceService
	logger  *zap.Logger
}

func NewDeviceHandler(devices *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodGet:
		h.List(w, r)
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodPost:
		h.Create(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/") && r.Method == http.MethodGet:
		h.Get(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/") && r.Method == http.MethodDelete:
		h.Delete(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func deviceIDFromPath(path string) string {
	id := strings.TrimPrefix(path, "/api/v1/devices/")
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	devices, err := h.devices.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(devices))
	for i, d := range devices {
		out[i] = d.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}

	d, err := h.devices.Create(r.Context(), service.CreateDeviceRequest{
		UserID: claims.UserID,
		Name:   body.Name,
	})
	if err != nil {
		h.logger.Error("create device failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(d.ToJSON()))
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := deviceIDFromPath(r.URL.Path)
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	d, err := h.devices.Get(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(d.ToJSON()))
}

func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := deviceIDFromPath(r.URL.Path)
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.devices.Delete(r.Context(), claims.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": id}))
}
