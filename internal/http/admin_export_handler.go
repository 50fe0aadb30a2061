package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/service"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// deviceExportHeader 设备清单导出表头
var deviceExportHeader = []string{
	"Device ID",
	"Owner",
	"Name",
	"Status",
	"Last Active",
	"Created At",
}

// AdminExportHandler 管理端设备清单导出
type AdminExportHandler struct {
	devices *service.DeviceService
	logger  *zap.Logger
}

func NewAdminExportHandler(devices *service.DeviceService, logger *zap.Logger) *AdminExportHandler {
	return &AdminExportHandler{devices: devices, logger: logger}
}

// ServeHTTP GET /admin/api/v1/devices/export（仅管理员）
func (h *AdminExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	devices, err := h.devices.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	buf, err := generateDeviceExport(devices)
	if err != nil {
		h.logger.Error("generate device export failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("export failed"))
		return
	}

	filename := fmt.Sprintf("devices_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func generateDeviceExport(devices []*domain.Device) (*bytes.Buffer, error) {
	f := excelize.NewFile()

	sheetName := "Devices"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range deviceExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "F", 22)

	for rowIdx, d := range devices {
		row := rowIdx + 2
		lastActive := ""
		if d.LastActive.Valid {
			lastActive = d.LastActive.Time.UTC().Format(time.RFC3339)
		}
		values := []any{
			d.DeviceID,
			d.UserID,
			d.Name,
			d.Status,
			lastActive,
			d.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	f.Close()
	return &buf, nil
}
