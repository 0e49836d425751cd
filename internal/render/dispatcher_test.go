package render

import (
	"context"
	"errors"
	"image"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
)

func solid(w, h int) Producer {
	return func(context.Context) (image.Image, error) {
		return image.NewGray(image.Rect(0, 0, w, h)), nil
	}
}

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher(160, 120, time.Second, zap.NewNop())
	d.SetDashboard(solid(160, 120))
	return d
}

func TestRender(t *testing.T) {
	d := newTestDispatcher()
	d.Register("quote", solid(160, 120))
	d.Register("small", solid(80, 60))
	d.Register("failing", func(context.Context) (image.Image, error) {
		return nil, errors.New("api down")
	})
	d.Register("panicking", func(context.Context) (image.Image, error) {
		panic("index out of range")
	})
	d.Register("empty", func(context.Context) (image.Image, error) {
		return nil, nil
	})

	t.Run("dashboard", func(t *testing.T) {
		img, err := d.Render(context.Background(), DashboardScreen)
		if err != nil || img == nil {
			t.Fatalf("Render(dashboard) = %v, %v", img, err)
		}
	})

	t.Run("registered screen", func(t *testing.T) {
		if _, err := d.Render(context.Background(), "quote"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("off-canvas output is resized", func(t *testing.T) {
		img, err := d.Render(context.Background(), "small")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
			t.Errorf("size = %dx%d, want 160x120", b.Dx(), b.Dy())
		}
	})

	t.Run("unknown screen", func(t *testing.T) {
		if _, err := d.Render(context.Background(), "nope"); !errors.Is(err, ErrUnknownScreen) {
			t.Errorf("expected ErrUnknownScreen, got %v", err)
		}
	})

	t.Run("producer error", func(t *testing.T) {
		if _, err := d.Render(context.Background(), "failing"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("producer panic is contained", func(t *testing.T) {
		if _, err := d.Render(context.Background(), "panicking"); err == nil {
			t.Error("expected error from panicking producer")
		}
		// The dispatcher keeps working after a panic.
		if _, err := d.Render(context.Background(), "quote"); err != nil {
			t.Errorf("render after panic failed: %v", err)
		}
	})

	t.Run("nil image", func(t *testing.T) {
		if _, err := d.Render(context.Background(), "empty"); !errors.Is(err, ErrNilImage) {
			t.Errorf("expected ErrNilImage, got %v", err)
		}
	})
}

func TestRender_Timeout(t *testing.T) {
	d := NewDispatcher(10, 10, 20*time.Millisecond, zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	d.Register("stuck", func(context.Context) (image.Image, error) {
		<-release
		return nil, nil
	})

	start := time.Now()
	_, err := d.Render(context.Background(), "stuck")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("render blocked for %v", elapsed)
	}
}

func TestRegisterReserved(t *testing.T) {
	d := newTestDispatcher()
	if err := d.Register(DashboardScreen, solid(1, 1)); !errors.Is(err, ErrReservedName) {
		t.Errorf("expected ErrReservedName, got %v", err)
	}
}

func TestNamesAndHas(t *testing.T) {
	d := NewDispatcher(10, 10, time.Second, zap.NewNop())
	d.Register("quote", solid(10, 10))
	d.Register("clock", solid(10, 10))

	if d.Has(DashboardScreen) {
		t.Error("dashboard should be absent until set")
	}
	if got, want := d.Names(), []string{"clock", "quote"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	d.SetDashboard(solid(10, 10))
	if !d.Has(DashboardScreen) || !d.Has("clock") || d.Has("joke") {
		t.Error("unexpected Has results")
	}
	if got, want := d.Names(), []string{"dashboard", "clock", "quote"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestRenderSleeping(t *testing.T) {
	d := newTestDispatcher()
	if _, err := d.RenderSleeping(context.Background(), "07:00"); !errors.Is(err, ErrNoSleepScreen) {
		t.Errorf("expected ErrNoSleepScreen, got %v", err)
	}

	var gotWake string
	d.SetSleeping(func(_ context.Context, wake string) (image.Image, error) {
		gotWake = wake
		return image.NewGray(image.Rect(0, 0, 160, 120)), nil
	})
	if _, err := d.RenderSleeping(context.Background(), "07:00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotWake != "07:00" {
		t.Errorf("wake = %q, want 07:00", gotWake)
	}
}
