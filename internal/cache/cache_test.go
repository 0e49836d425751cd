package cache

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

var errUpstream = errors.New("upstream down")

func TestFetchFreshness(t *testing.T) {
	clock := newFakeClock()
	c := New(zap.NewNop(), WithClock(clock.Now))

	calls := 0
	fn := func() (string, error) {
		calls++
		return "quote of the day", nil
	}

	v, ok := Fetch(c, "quote", time.Hour, 24*time.Hour, fn)
	if !ok || v != "quote of the day" {
		t.Fatalf("first fetch = %q, %v", v, ok)
	}

	clock.Advance(59 * time.Minute)
	v, ok = Fetch(c, "quote", time.Hour, 24*time.Hour, fn)
	if !ok || v != "quote of the day" {
		t.Fatalf("second fetch = %q, %v", v, ok)
	}
	if calls != 1 {
		t.Errorf("fetch fn called %d times within ttl, want 1", calls)
	}

	clock.Advance(time.Minute)
	Fetch(c, "quote", time.Hour, 24*time.Hour, fn)
	if calls != 2 {
		t.Errorf("fetch fn called %d times after ttl, want 2", calls)
	}
}

func TestFetchStaleFallback(t *testing.T) {
	tests := []struct {
		name     string
		maxStale time.Duration
		wantOK   bool
	}{
		{"within max stale", 10 * time.Minute, true},
		{"exactly at max stale", 5*time.Minute + time.Second, false},
		{"beyond max stale", 2 * time.Minute, false},
		{"stale disabled", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			c := New(zap.NewNop(), WithClock(clock.Now))
			ttl := 5 * time.Minute

			Fetch(c, "stocks", ttl, tt.maxStale, func() (int, error) { return 42, nil })

			clock.Advance(ttl + time.Second)
			v, ok := Fetch(c, "stocks", ttl, tt.maxStale, func() (int, error) { return 0, errUpstream })
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && v != 42 {
				t.Errorf("value = %d, want stale 42", v)
			}
			if !tt.wantOK && v != 0 {
				t.Errorf("value = %d, want zero value", v)
			}
		})
	}
}

func TestFetchNeverCorrupts(t *testing.T) {
	clock := newFakeClock()
	c := New(zap.NewNop(), WithClock(clock.Now))

	Fetch(c, "tasks", time.Minute, time.Hour, func() ([]string, error) {
		return []string{"buy milk"}, nil
	})
	before := *c.entries["tasks"]

	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Minute)
		Fetch(c, "tasks", time.Minute, time.Hour, func() ([]string, error) {
			return nil, errUpstream
		})
	}

	after := c.entries["tasks"]
	if !after.fetchedAt.Equal(before.fetchedAt) {
		t.Errorf("fetchedAt changed from %v to %v", before.fetchedAt, after.fetchedAt)
	}
	got := after.value.([]string)
	if len(got) != 1 || got[0] != "buy milk" {
		t.Errorf("value changed to %v", got)
	}
}

func TestFetchZeroTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(zap.NewNop(), WithClock(clock.Now))

	calls := 0
	ok := func() (string, error) {
		calls++
		return "joke", nil
	}

	Fetch(c, "joke", 0, 5*time.Minute, ok)
	Fetch(c, "joke", 0, 5*time.Minute, ok)
	if calls != 2 {
		t.Errorf("fetch fn called %d times with ttl=0, want 2", calls)
	}

	clock.Advance(time.Minute)
	v, found := Fetch(c, "joke", 0, 5*time.Minute, func() (string, error) { return "", errUpstream })
	if !found || v != "joke" {
		t.Errorf("got %q, %v; want stale joke", v, found)
	}
}

func TestFetchConcurrentCallersShareOneFetch(t *testing.T) {
	c := New(zap.NewNop(), WithClock(newFakeClock().Now))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func() (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "sunny", nil
	}

	results := make([]string, 2)
	var wg sync.WaitGroup
	fetch := func(i int) {
		defer wg.Done()
		v, ok := Fetch(c, "weather", time.Hour, 3*time.Hour, fn)
		if !ok {
			t.Errorf("caller %d got no value", i)
		}
		results[i] = v
	}

	wg.Add(2)
	go fetch(0)
	<-started
	go fetch(1)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fetch fn called %d times for one key inside ttl, want 1", n)
	}
	if results[0] != "sunny" || results[1] != "sunny" {
		t.Errorf("results = %v, want both sunny", results)
	}
	if st := c.Stats(); st.Refreshed+st.Fresh != 2 {
		t.Errorf("stats = %+v, want one outcome per caller", st)
	}
}

func TestFetchConcurrentFailureFallsBackPerCaller(t *testing.T) {
	clock := newFakeClock()
	c := New(zap.NewNop(), WithClock(clock.Now))
	Fetch(c, "weather", time.Minute, time.Hour, func() (string, error) { return "cloudy", nil })
	clock.Advance(10 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := Fetch(c, "weather", time.Minute, time.Hour, func() (string, error) {
				time.Sleep(20 * time.Millisecond)
				return "", errUpstream
			})
			if !ok || v != "cloudy" {
				t.Errorf("got %q, %v; want stale cloudy", v, ok)
			}
		}()
	}
	wg.Wait()

	if st := c.Stats(); st.Stale != 4 {
		t.Errorf("stale = %d, want 4", st.Stale)
	}
}

func TestFetchUnavailable(t *testing.T) {
	c := New(zap.NewNop())

	v, ok := Fetch(c, "radar", 2*time.Minute, 10*time.Minute, func() (*int, error) {
		return nil, errUpstream
	})
	if ok || v != nil {
		t.Errorf("got %v, %v; want nil, false", v, ok)
	}
	if _, exists := c.entries["radar"]; exists {
		t.Error("failed first fetch must not create an entry")
	}
}

func TestFetchTypeMismatchIsMiss(t *testing.T) {
	c := New(zap.NewNop())

	Fetch(c, "shared", time.Hour, time.Hour, func() (int, error) { return 1, nil })

	calls := 0
	v, ok := Fetch(c, "shared", time.Hour, time.Hour, func() (string, error) {
		calls++
		return "text", nil
	})
	if !ok || v != "text" || calls != 1 {
		t.Errorf("got %q, %v after %d calls", v, ok, calls)
	}
}

func TestFetchLogsStaleAge(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clock := newFakeClock()
	c := New(zap.New(core), WithClock(clock.Now))

	Fetch(c, "art", time.Hour, 6*time.Hour, func() (string, error) { return "monet", nil })
	clock.Advance(2 * time.Hour)
	Fetch(c, "art", time.Hour, 6*time.Hour, func() (string, error) { return "", errUpstream })

	if logs.FilterMessage("Fetch failed").Len() != 1 {
		t.Error("expected fetch failure to be logged")
	}
	stale := logs.FilterMessage("Serving stale data").All()
	if len(stale) != 1 {
		t.Fatalf("expected one stale log entry, got %d", len(stale))
	}
	if age := stale[0].ContextMap()["age"]; age != 2*time.Hour {
		t.Errorf("logged age = %v, want 2h", age)
	}
}

func TestStatsAndObserver(t *testing.T) {
	clock := newFakeClock()
	var seen []Outcome
	c := New(zap.NewNop(), WithClock(clock.Now), WithObserver(func(o Outcome) { seen = append(seen, o) }))

	Fetch(c, "b", time.Minute, time.Hour, func() (int, error) { return 1, nil })
	Fetch(c, "b", time.Minute, time.Hour, func() (int, error) { return 2, nil })
	clock.Advance(2 * time.Minute)
	Fetch(c, "b", time.Minute, time.Hour, func() (int, error) { return 0, errUpstream })
	Fetch(c, "a", time.Minute, time.Hour, func() (int, error) { return 0, errUpstream })

	want := []Outcome{OutcomeRefreshed, OutcomeFresh, OutcomeStale, OutcomeUnavailable}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, seen[i], want[i])
		}
	}

	s := c.Stats()
	if s.Entries != 1 || s.Fresh != 1 || s.Refreshed != 1 || s.Stale != 1 || s.Unavailable != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if len(s.Keys) != 1 || s.Keys[0].Key != "b" || s.Keys[0].Age != 2*time.Minute {
		t.Errorf("unexpected key info %+v", s.Keys)
	}
}

type memoryMirror struct {
	records     map[string]Record
	expirations map[string]time.Duration
	loads       int
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{records: map[string]Record{}, expirations: map[string]time.Duration{}}
}

func (m *memoryMirror) Load(_ context.Context, key string) (Record, bool, error) {
	m.loads++
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *memoryMirror) Store(_ context.Context, key string, rec Record, expiration time.Duration) error {
	m.records[key] = rec
	m.expirations[key] = expiration
	return nil
}

type forecast struct {
	Temp    float64 `json:"temp"`
	Summary string  `json:"summary"`
}

func TestMirrorSurvivesRestart(t *testing.T) {
	clock := newFakeClock()
	mirror := newMemoryMirror()

	first := New(zap.NewNop(), WithClock(clock.Now), WithMirror(mirror))
	Fetch(first, "weather", 10*time.Minute, time.Hour, func() (forecast, error) {
		return forecast{Temp: 14.5, Summary: "Drizzle"}, nil
	})
	if got := mirror.expirations["weather"]; got != time.Hour {
		t.Errorf("mirror expiration = %v, want 1h", got)
	}

	clock.Advance(20 * time.Minute)
	restarted := New(zap.NewNop(), WithClock(clock.Now), WithMirror(mirror))
	v, ok := Fetch(restarted, "weather", 10*time.Minute, time.Hour, func() (forecast, error) {
		return forecast{}, errUpstream
	})
	if !ok || v.Summary != "Drizzle" {
		t.Fatalf("got %+v, %v; want stale mirrored forecast", v, ok)
	}

	Fetch(restarted, "weather", 10*time.Minute, time.Hour, func() (forecast, error) {
		return forecast{}, errUpstream
	})
	if mirror.loads != 1 {
		t.Errorf("mirror loaded %d times, want 1", mirror.loads)
	}
}

func TestMirrorSkipsImages(t *testing.T) {
	mirror := newMemoryMirror()
	c := New(zap.NewNop(), WithMirror(mirror))

	Fetch(c, "photo", time.Hour, time.Hour, func() (image.Image, error) {
		return image.NewGray(image.Rect(0, 0, 4, 4)), nil
	})
	if _, ok := mirror.records["photo"]; ok {
		t.Error("decoded image should not be mirrored")
	}
}
