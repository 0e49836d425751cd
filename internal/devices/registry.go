// Package devices discovers the display devices that receive rendered screens.
package devices

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/koios/inkboard/internal/fleet"
	"github.com/koios/inkboard/pkg/models"
	"go.uber.org/zap"
)

const shortIDLength = 12

// Lister logs in to the fleet backend. *fleet.Client satisfies it.
type Lister interface {
	Login(ctx context.Context) (*fleet.Session, error)
}

// Registry lazily discovers devices once and memoizes the result
type Registry struct {
	fleet        Lister
	allowList    []string
	canvasWidth  int
	canvasHeight int
	logger       *zap.Logger

	mu         sync.Mutex
	devices    []models.Device
	discovered bool
	fallback   bool
}

// NewRegistry creates a registry. An empty allowList accepts every allowed device.
func NewRegistry(lister Lister, allowList []string, canvasWidth, canvasHeight int, logger *zap.Logger) *Registry {
	return &Registry{
		fleet:        lister,
		allowList:    allowList,
		canvasWidth:  canvasWidth,
		canvasHeight: canvasHeight,
		logger:       logger,
	}
}

// Devices returns the target devices, discovering them on first use.
// Discovery failures fall back to the configured ids at canvas resolution.
func (r *Registry) Devices(ctx context.Context) []models.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discovered {
		return r.devices
	}

	devices, err := r.discover(ctx)
	if err != nil {
		r.logger.Warn("Device discovery failed, using configured devices",
			zap.Int("configured", len(r.allowList)),
			zap.Error(err))
		devices = r.fallbackDevices()
		r.fallback = true
	} else {
		r.fallback = false
	}

	r.devices = devices
	r.discovered = true

	r.logger.Info("Devices resolved",
		zap.Int("count", len(devices)),
		zap.Bool("fallback", r.fallback))
	for _, d := range devices {
		r.logger.Info("Device",
			zap.String("device_id", d.ID),
			zap.String("name", d.Name),
			zap.Int("width", d.Width),
			zap.Int("height", d.Height))
	}

	return r.devices
}

// Reset forgets the memoized list so the next Devices call rediscovers.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = nil
	r.discovered = false
	r.fallback = false
}

// Snapshot returns the memoized list without triggering discovery.
func (r *Registry) Snapshot() (devices []models.Device, discovered, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.Device(nil), r.devices...), r.discovered, r.fallback
}

// FallbackID is the device pushed to when discovery yields nothing.
func (r *Registry) FallbackID() string {
	if len(r.allowList) == 0 {
		return ""
	}
	return r.allowList[0]
}

func (r *Registry) discover(ctx context.Context) ([]models.Device, error) {
	session, err := r.fleet.Login(ctx)
	if err != nil {
		return nil, err
	}

	records, err := session.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	allowed := mapset.NewSet(r.allowList...)

	var devices []models.Device
	for _, rec := range records {
		if !rec.Allowed() {
			continue
		}
		if allowed.Cardinality() > 0 && !allowed.Contains(rec.UUID) {
			continue
		}

		width, height := r.canvasWidth, r.canvasHeight
		if len(rec.Displays) > 0 && rec.Displays[0].Width > 0 && rec.Displays[0].Height > 0 {
			width, height = rec.Displays[0].Width, rec.Displays[0].Height
		}

		devices = append(devices, models.Device{
			ID:     rec.UUID,
			Name:   displayName(rec),
			Width:  width,
			Height: height,
		})
	}

	return devices, nil
}

func (r *Registry) fallbackDevices() []models.Device {
	devices := make([]models.Device, 0, len(r.allowList))
	for _, id := range r.allowList {
		devices = append(devices, models.Device{
			ID:     id,
			Name:   shortID(id),
			Width:  r.canvasWidth,
			Height: r.canvasHeight,
		})
	}
	return devices
}

func displayName(rec fleet.DeviceRecord) string {
	switch {
	case rec.Options.Name != "":
		return rec.Options.Name
	case rec.Options.Revision != "":
		return rec.Options.Revision
	default:
		return shortID(rec.UUID)
	}
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}
