// Package render resolves screen names to producers and runs them in isolation.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"sort"
	"time"

	"github.com/koios/inkboard/internal/metrics"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// DashboardScreen is the built-in default screen.
const DashboardScreen = "dashboard"

var (
	ErrUnknownScreen = errors.New("unknown screen")
	ErrReservedName  = errors.New("screen name is reserved")
	ErrNilImage      = errors.New("producer returned no image")
	ErrNoSleepScreen = errors.New("no sleeping screen configured")
)

// Producer draws one screen at canvas resolution.
type Producer func(ctx context.Context) (image.Image, error)

// SleepProducer draws the placeholder shown outside active hours.
// wake is the "HH:MM" time rotation resumes.
type SleepProducer func(ctx context.Context, wake string) (image.Image, error)

// Dispatcher maps screen names to producers
type Dispatcher struct {
	dashboard Producer
	producers map[string]Producer
	sleeping  SleepProducer
	width     int
	height    int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher for a width x height canvas.
// Each render is bounded by timeout.
func NewDispatcher(width, height int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		producers: make(map[string]Producer),
		width:     width,
		height:    height,
		timeout:   timeout,
		logger:    logger,
	}
}

// SetDashboard installs the built-in dashboard producer.
func (d *Dispatcher) SetDashboard(p Producer) {
	d.dashboard = p
}

// SetSleeping installs the inactive-hours placeholder.
func (d *Dispatcher) SetSleeping(p SleepProducer) {
	d.sleeping = p
}

// Register adds a pluggable producer.
func (d *Dispatcher) Register(name string, p Producer) error {
	if name == DashboardScreen {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	d.producers[name] = p
	return nil
}

// Has reports whether name resolves to a producer.
func (d *Dispatcher) Has(name string) bool {
	if name == DashboardScreen {
		return d.dashboard != nil
	}
	_, ok := d.producers[name]
	return ok
}

// Names lists renderable screens, dashboard first and the rest sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.producers)+1)
	for name := range d.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	if d.dashboard != nil {
		names = append([]string{DashboardScreen}, names...)
	}
	return names
}

// Canvas returns the logical render resolution.
func (d *Dispatcher) Canvas() (width, height int) {
	return d.width, d.height
}

// Render runs the named producer. Producer errors, panics and timeouts are
// logged and returned; they never propagate as panics.
func (d *Dispatcher) Render(ctx context.Context, name string) (image.Image, error) {
	var producer Producer
	if name == DashboardScreen {
		producer = d.dashboard
	} else {
		producer = d.producers[name]
	}
	if producer == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}

	start := time.Now()
	img, err := d.run(ctx, name, producer)
	metrics.ObserveRender(name, time.Since(start), err)
	if err != nil {
		d.logger.Error("Screen render failed",
			zap.String("screen", name),
			zap.Error(err))
		return nil, err
	}

	d.logger.Debug("Screen rendered",
		zap.String("screen", name),
		zap.Duration("duration", time.Since(start)))
	return img, nil
}

// RenderSleeping draws the placeholder carrying the wake time.
func (d *Dispatcher) RenderSleeping(ctx context.Context, wake string) (image.Image, error) {
	if d.sleeping == nil {
		return nil, ErrNoSleepScreen
	}
	return d.run(ctx, "sleeping", func(ctx context.Context) (image.Image, error) {
		return d.sleeping(ctx, wake)
	})
}

type outcome struct {
	img image.Image
	err error
}

// run executes producer on its own goroutine so a stuck producer cannot
// outlive the render timeout.
func (d *Dispatcher) run(ctx context.Context, name string, producer Producer) (image.Image, error) {
	renderCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Producer panicked",
					zap.String("screen", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				done <- outcome{err: fmt.Errorf("producer %s panicked: %v", name, r)}
			}
		}()
		img, err := producer(renderCtx)
		done <- outcome{img: img, err: err}
	}()

	select {
	case <-renderCtx.Done():
		return nil, fmt.Errorf("render %s: %w", name, renderCtx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("render %s: %w", name, out.err)
		}
		if out.img == nil {
			return nil, fmt.Errorf("render %s: %w", name, ErrNilImage)
		}
		return d.fitCanvas(name, out.img), nil
	}
}

// fitCanvas resizes off-size output so every rendered bitmap is canvas sized.
func (d *Dispatcher) fitCanvas(name string, img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == d.width && b.Dy() == d.height {
		return img
	}

	d.logger.Warn("Producer returned off-canvas image, resizing",
		zap.String("screen", name),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))
	return resize.Resize(uint(d.width), uint(d.height), img, resize.Lanczos3)
}
