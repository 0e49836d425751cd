// Package scheduler drives the screen rotation: it walks the playlist during
// the active window and parks the devices on a sleeping screen outside it.
package scheduler

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koios/inkboard/internal/delivery"
	"github.com/koios/inkboard/internal/metrics"
	"go.uber.org/zap"
)

// State is the rotation state
type State string

const (
	StateActive   State = "ACTIVE_ROTATING"
	StateSleeping State = "SLEEPING"
)

// MinInterval is the fastest rotation the devices' check-in cycle can follow.
const MinInterval = 180 * time.Second

var ErrEmptyPlaylist = errors.New("playlist is empty")

// Renderer produces bitmaps for screen names. *render.Dispatcher satisfies it.
type Renderer interface {
	Render(ctx context.Context, name string) (image.Image, error)
	RenderSleeping(ctx context.Context, wake string) (image.Image, error)
}

// Deliverer pushes a bitmap to all devices. *delivery.Deliverer satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, img image.Image) delivery.Report
}

// Config holds the rotation inputs
type Config struct {
	Playlist []string
	Interval time.Duration
	Window   ActiveWindow
}

// Status is a point-in-time view of the scheduler
type Status struct {
	State         State     `json:"state"`
	Screen        string    `json:"screen,omitempty"`
	PassID        string    `json:"pass_id,omitempty"`
	LastTick      time.Time `json:"last_tick,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastDelivered int       `json:"last_delivered"`
	WakeAt        string    `json:"wake_at,omitempty"`
	Passes        int64     `json:"passes"`
	Playlist      []string  `json:"playlist"`
	IntervalSecs  int       `json:"interval_seconds"`
	ActiveHours   string    `json:"active_hours"`
}

// Scheduler runs the rotation loop
type Scheduler struct {
	playlist []string
	interval time.Duration
	window   ActiveWindow

	renderer  Renderer
	deliverer Deliverer
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	status Status
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper overrides the blocking wait between ticks.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// New validates cfg and creates a scheduler. The interval is raised to
// MinInterval when shorter.
func New(cfg Config, renderer Renderer, deliverer Deliverer, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if len(cfg.Playlist) == 0 {
		return nil, ErrEmptyPlaylist
	}

	interval := cfg.Interval
	if interval < MinInterval {
		logger.Warn("Rotation interval below minimum, clamping",
			zap.Duration("configured", interval),
			zap.Duration("interval", MinInterval))
		interval = MinInterval
	}

	s := &Scheduler{
		playlist:  append([]string(nil), cfg.Playlist...),
		interval:  interval,
		window:    cfg.Window,
		renderer:  renderer,
		deliverer: deliverer,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.status = Status{
		State:        StateActive,
		Playlist:     s.playlist,
		IntervalSecs: int(interval / time.Second),
		ActiveHours:  cfg.Window.String(),
	}
	return s, nil
}

// Interval returns the effective rotation interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Status returns a snapshot of the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	st.Playlist = append([]string(nil), s.status.Playlist...)
	return st
}

// Run rotates until ctx is cancelled and then returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting rotation",
		zap.Strings("playlist", s.playlist),
		zap.Duration("interval", s.interval),
		zap.String("active_hours", s.window.String()))

	for {
		if err := s.pass(ctx); err != nil {
			s.logger.Info("Rotation stopped", zap.Error(err))
			return err
		}
	}
}

// pass runs one lap of the playlist, or one inactive-window wait.
func (s *Scheduler) pass(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if minute := MinuteOfDay(s.now()); !s.window.Contains(minute) {
		return s.sleepUntilActive(ctx, minute)
	}

	passID := uuid.NewString()
	s.update(func(st *Status) {
		st.State = StateActive
		st.PassID = passID
		st.WakeAt = ""
	})
	metrics.SetSchedulerState(string(StateActive), string(StateActive), string(StateSleeping))

	for _, name := range s.playlist {
		if !s.window.Contains(MinuteOfDay(s.now())) {
			s.logger.Info("Active window closed mid-pass",
				zap.String("pass_id", passID),
				zap.String("next_screen", name))
			return nil
		}

		s.tick(ctx, passID, name)

		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}
	}

	s.update(func(st *Status) { st.Passes++ })
	return nil
}

// tick renders one screen and delivers it. A failed render leaves the
// devices showing their previous image.
func (s *Scheduler) tick(ctx context.Context, passID, name string) {
	logger := s.logger.With(zap.String("pass_id", passID), zap.String("screen", name))
	logger.Info("Rendering screen")

	s.update(func(st *Status) {
		st.Screen = name
		st.LastTick = s.now()
	})

	img, err := s.renderer.Render(ctx, name)
	if err != nil {
		logger.Warn("Skipping delivery for failed screen", zap.Error(err))
		s.update(func(st *Status) {
			st.LastError = err.Error()
			st.LastDelivered = 0
		})
		return
	}

	report := s.deliverer.Deliver(ctx, img)
	logger.Info("Screen delivered",
		zap.Int("delivered", report.Delivered()),
		zap.Int("attempted", len(report.Results)),
		zap.Duration("next_in", s.interval))
	s.update(func(st *Status) {
		st.LastError = ""
		st.LastDelivered = report.Delivered()
	})
}

// sleepUntilActive pushes the sleeping screen and waits for the window to open.
func (s *Scheduler) sleepUntilActive(ctx context.Context, minute int) error {
	wake := s.window.WakeTime()
	wait := s.window.MinutesUntilOpen(minute)

	s.update(func(st *Status) {
		st.State = StateSleeping
		st.Screen = ""
		st.WakeAt = wake
	})
	metrics.SetSchedulerState(string(StateSleeping), string(StateActive), string(StateSleeping))
	metrics.SetSleepMinutes(wait)

	img, err := s.renderer.RenderSleeping(ctx, wake)
	if err != nil {
		s.logger.Error("Failed to render sleeping screen", zap.Error(err))
	} else {
		s.deliverer.Deliver(ctx, img)
	}

	s.logger.Info("Outside active hours, sleeping",
		zap.String("active_hours", s.window.String()),
		zap.Int("minutes", wait),
		zap.String("wake_at", wake))

	return s.sleep(ctx, time.Duration(wait)*time.Minute)
}

func (s *Scheduler) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
