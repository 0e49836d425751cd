// Package delivery adapts a rendered canvas to each device and pushes it.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/koios/inkboard/internal/fleet"
	"github.com/koios/inkboard/internal/metrics"
	"github.com/koios/inkboard/pkg/models"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// DeviceSource supplies target devices. *devices.Registry satisfies it.
type DeviceSource interface {
	Devices(ctx context.Context) []models.Device
	FallbackID() string
}

// Authenticator opens a fleet session. *fleet.Client satisfies it.
type Authenticator interface {
	Login(ctx context.Context) (*fleet.Session, error)
}

// Report is the outcome of one delivery cycle
type Report struct {
	At      time.Time           `json:"at"`
	Results []models.PushResult `json:"results"`
}

// Delivered counts accepted pushes.
func (r Report) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Deliverer pushes images to every known device, one after another
type Deliverer struct {
	devices DeviceSource
	fleet   Authenticator
	logger  *zap.Logger

	mu   sync.Mutex
	last *Report
}

// NewDeliverer creates a deliverer
func NewDeliverer(devices DeviceSource, auth Authenticator, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		devices: devices,
		fleet:   auth,
		logger:  logger,
	}
}

// Deliver pushes img to each device at its native resolution. A failure on
// one device is recorded and the remaining devices are still attempted.
func (d *Deliverer) Deliver(ctx context.Context, img image.Image) Report {
	report := Report{At: time.Now()}

	targets := d.devices.Devices(ctx)
	metrics.SetDevices(len(targets))

	if len(targets) == 0 {
		id := d.devices.FallbackID()
		if id == "" {
			d.logger.Warn("No devices configured, nothing delivered")
			d.remember(report)
			return report
		}
		b := img.Bounds()
		targets = []models.Device{{ID: id, Name: id, Width: b.Dx(), Height: b.Dy()}}
	}

	for _, dev := range targets {
		report.Results = append(report.Results, d.push(ctx, img, dev))
	}

	d.remember(report)
	return report
}

// LastReport returns the most recent delivery outcome, if any.
func (d *Deliverer) LastReport() (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last == nil {
		return Report{}, false
	}
	return *d.last, true
}

func (d *Deliverer) remember(r Report) {
	d.mu.Lock()
	d.last = &r
	d.mu.Unlock()
}

func (d *Deliverer) push(ctx context.Context, img image.Image, dev models.Device) models.PushResult {
	result := models.PushResult{DeviceID: dev.ID, Width: dev.Width, Height: dev.Height}
	start := time.Now()

	err := func() error {
		data, err := Encode(img, dev.Width, dev.Height)
		if err != nil {
			return err
		}
		result.Bytes = len(data)

		session, err := d.fleet.Login(ctx)
		if err != nil {
			return err
		}
		return session.PushImage(ctx, dev.ID, data)
	}()

	metrics.ObservePush(dev.ID, time.Since(start), err)

	if err != nil {
		result.Error = err.Error()
		d.logger.Error("Push failed",
			zap.String("device_id", dev.ID),
			zap.String("device", dev.Name),
			zap.Error(err))
		return result
	}

	d.logger.Info("Pushed image",
		zap.String("device_id", dev.ID),
		zap.String("device", dev.Name),
		zap.Int("width", dev.Width),
		zap.Int("height", dev.Height),
		zap.Int("bytes", result.Bytes))
	return result
}

// Encode resizes img to width x height when needed, flattens any alpha onto
// white and returns an opaque PNG.
func Encode(img image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, Flatten(img)); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten composites img over white into an opaque RGBA image anchored at the origin.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
