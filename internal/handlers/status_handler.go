package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strings"

	"github.com/koios/inkboard/internal/cache"
	"github.com/koios/inkboard/internal/delivery"
	"github.com/koios/inkboard/internal/render"
	"github.com/koios/inkboard/internal/scheduler"
	"github.com/koios/inkboard/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DeviceRegistry is the part of the device registry the API exposes.
type DeviceRegistry interface {
	Devices(ctx context.Context) []models.Device
	Reset()
	Snapshot() (devices []models.Device, discovered, fallback bool)
}

// Renderer draws a screen by name for previews.
type Renderer interface {
	Render(ctx context.Context, name string) (image.Image, error)
	Canvas() (width, height int)
}

// Dependencies groups what the status API reads from
type Dependencies struct {
	Scheduler interface{ Status() scheduler.Status }
	Cache     interface{ Stats() cache.Stats }
	Delivery  interface {
		LastReport() (delivery.Report, bool)
	}
	Devices  DeviceRegistry
	Renderer Renderer
	Catalog  *models.ScreenCatalog
}

// StatusHandler serves the read-mostly operational API
type StatusHandler struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(deps Dependencies, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		deps:   deps,
		logger: logger,
	}
}

// RegisterRoutes registers the status routes
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/screens", h.handleScreens)
	mux.HandleFunc("/screens/", h.handleScreenPreview)
	mux.HandleFunc("/devices", h.handleDevices)
	mux.HandleFunc("/devices/refresh", h.handleDevicesRefresh)
	mux.HandleFunc("/status", h.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
}

// handleHealth handles GET /health
func (h *StatusHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"service": "inkboard",
		"version": "1.0.0",
	})
}

// handleScreens handles GET /screens - lists the catalog with availability
func (h *StatusHandler) handleScreens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	screens := []models.ScreenInfo{}
	if h.deps.Catalog != nil {
		screens = h.deps.Catalog.List()
	}
	h.writeJSON(w, screens)

	h.logger.Debug("Served screen list", zap.Int("count", len(screens)))
}

// handleScreenPreview handles GET /screens/{name}/preview - renders a screen
// as the PNG a device would receive.
func (h *StatusHandler) handleScreenPreview(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/screens/")
	parts := strings.Split(path, "/")

	if len(parts) != 2 || parts[0] == "" || parts[1] != "preview" {
		http.Error(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Renderer == nil {
		http.Error(w, "Rendering not available", http.StatusServiceUnavailable)
		return
	}

	name := parts[0]
	img, err := h.deps.Renderer.Render(r.Context(), name)
	if err != nil {
		if errors.Is(err, render.ErrUnknownScreen) {
			http.Error(w, "Screen not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to render screen", http.StatusInternalServerError)
		return
	}

	width, height := h.deps.Renderer.Canvas()
	data, err := delivery.Encode(img, width, height)
	if err != nil {
		h.logger.Error("Failed to encode preview", zap.String("screen", name), zap.Error(err))
		http.Error(w, "Failed to encode screen", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)

	h.logger.Debug("Served screen preview",
		zap.String("screen", name),
		zap.Int("bytes", len(data)))
}

type devicesResponse struct {
	Devices    []models.Device `json:"devices"`
	Discovered bool            `json:"discovered"`
	Fallback   bool            `json:"fallback"`
}

// handleDevices handles GET /devices - the memoized device list
func (h *StatusHandler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices, discovered, fallback := h.deps.Devices.Snapshot()
	if devices == nil {
		devices = []models.Device{}
	}
	h.writeJSON(w, devicesResponse{Devices: devices, Discovered: discovered, Fallback: fallback})
}

// handleDevicesRefresh handles POST /devices/refresh - forces rediscovery
func (h *StatusHandler) handleDevicesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Refreshing device list...")

	h.deps.Devices.Reset()
	devices := h.deps.Devices.Devices(r.Context())
	_, _, fallback := h.deps.Devices.Snapshot()

	h.writeJSON(w, map[string]interface{}{
		"status":       "success",
		"device_count": len(devices),
		"fallback":     fallback,
	})

	h.logger.Info("Device list refreshed",
		zap.Int("device_count", len(devices)),
		zap.Bool("fallback", fallback))
}

type statusResponse struct {
	Scheduler    scheduler.Status `json:"scheduler"`
	Cache        cache.Stats      `json:"cache"`
	LastDelivery *delivery.Report `json:"last_delivery"`
}

// handleStatus handles GET /status - scheduler, cache and delivery state
func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Scheduler: h.deps.Scheduler.Status(),
		Cache:     h.deps.Cache.Stats(),
	}
	if report, ok := h.deps.Delivery.LastReport(); ok {
		resp.LastDelivery = &report
	}
	h.writeJSON(w, resp)
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
