// Package screens holds the built-in screen producers.
package screens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koios/inkboard/internal/cache"
	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/internal/render"
	"github.com/koios/inkboard/pkg/models"
	"go.uber.org/zap"
)

var ErrNoData = errors.New("no data available")

// StatusProbe reports device battery and temperature. *fleet.Client satisfies it.
type StatusProbe interface {
	DeviceStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error)
}

// Endpoints are the third-party data sources
type Endpoints struct {
	Weather string
	Quote   string
	Joke    string
}

// DefaultEndpoints are the public services the producers read from.
var DefaultEndpoints = Endpoints{
	Weather: "https://api.open-meteo.com/v1/forecast",
	Quote:   "https://zenquotes.io/api/today",
	Joke:    "https://icanhazdadjoke.com/",
}

// Cache lifetimes per data source: fresh for ttl, servable when stale up to maxStale.
var (
	weatherTTL, weatherMaxStale = 10 * time.Minute, 3 * time.Hour
	quoteTTL, quoteMaxStale     = 6 * time.Hour, 24 * time.Hour
	jokeTTL, jokeMaxStale       = time.Duration(0), 5 * time.Minute
	statusTTL, statusMaxStale   = 5 * time.Minute, 30 * time.Minute
)

// Set renders the built-in screens
type Set struct {
	cache     *cache.Cache
	http      *http.Client
	probe     StatusProbe
	deviceID  string
	weather   config.WeatherConfig
	endpoints Endpoints
	width     int
	height    int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithHTTPClient overrides the client used for data sources.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Set) { s.http = c }
}

// WithEndpoints overrides the data source URLs.
func WithEndpoints(e Endpoints) Option {
	return func(s *Set) { s.endpoints = e }
}

// WithClock overrides the time shown on screens.
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// NewSet creates the producers. probe and deviceID may be empty, in which
// case the dashboard omits the device status footer.
func NewSet(c *cache.Cache, probe StatusProbe, deviceID string, weather config.WeatherConfig, width, height int, logger *zap.Logger, opts ...Option) *Set {
	s := &Set{
		cache:     c,
		http:      &http.Client{Timeout: 10 * time.Second},
		probe:     probe,
		deviceID:  deviceID,
		weather:   weather,
		endpoints: DefaultEndpoints,
		width:     width,
		height:    height,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs every producer on d.
func (s *Set) Register(d *render.Dispatcher) error {
	d.SetDashboard(s.Dashboard)
	d.SetSleeping(s.Sleeping)

	producers := map[string]render.Producer{
		"clock":    s.Clock,
		"progress": s.Progress,
		"quote":    s.Quote,
		"joke":     s.Joke,
	}
	for name, p := range producers {
		if err := d.Register(name, p); err != nil {
			return err
		}
	}
	return nil
}

type weather struct {
	Temperature float64 `json:"temperature"`
	Code        int     `json:"code"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	RainChance  int     `json:"rain_chance"`
}

type quote struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

func (s *Set) fetchWeather(ctx context.Context) (weather, bool) {
	return cache.Fetch(s.cache, "weather", weatherTTL, weatherMaxStale, func() (weather, error) {
		q := url.Values{
			"latitude":      {strconv.FormatFloat(s.weather.Latitude, 'f', 3, 64)},
			"longitude":     {strconv.FormatFloat(s.weather.Longitude, 'f', 3, 64)},
			"current":       {"temperature_2m,weather_code"},
			"daily":         {"temperature_2m_max,temperature_2m_min,precipitation_probability_max"},
			"timezone":      {"auto"},
			"forecast_days": {"1"},
		}

		var resp struct {
			Current struct {
				Temperature float64 `json:"temperature_2m"`
				WeatherCode int     `json:"weather_code"`
			} `json:"current"`
			Daily struct {
				Max  []float64 `json:"temperature_2m_max"`
				Min  []float64 `json:"temperature_2m_min"`
				Rain []int     `json:"precipitation_probability_max"`
			} `json:"daily"`
		}
		if err := s.getJSON(ctx, s.endpoints.Weather+"?"+q.Encode(), &resp); err != nil {
			return weather{}, err
		}
		if len(resp.Daily.Max) == 0 || len(resp.Daily.Min) == 0 {
			return weather{}, fmt.Errorf("weather response missing daily forecast")
		}

		w := weather{
			Temperature: resp.Current.Temperature,
			Code:        resp.Current.WeatherCode,
			High:        resp.Daily.Max[0],
			Low:         resp.Daily.Min[0],
		}
		if len(resp.Daily.Rain) > 0 {
			w.RainChance = resp.Daily.Rain[0]
		}
		return w, nil
	})
}

func (s *Set) fetchQuote(ctx context.Context) (quote, bool) {
	return cache.Fetch(s.cache, "quote", quoteTTL, quoteMaxStale, func() (quote, error) {
		var resp []struct {
			Q string `json:"q"`
			A string `json:"a"`
		}
		if err := s.getJSON(ctx, s.endpoints.Quote, &resp); err != nil {
			return quote{}, err
		}
		if len(resp) == 0 || resp[0].Q == "" {
			return quote{}, fmt.Errorf("quote response empty")
		}
		return quote{Text: resp[0].Q, Author: resp[0].A}, nil
	})
}

func (s *Set) fetchJoke(ctx context.Context) (string, bool) {
	return cache.Fetch(s.cache, "joke", jokeTTL, jokeMaxStale, func() (string, error) {
		var resp struct {
			Joke string `json:"joke"`
		}
		if err := s.getJSON(ctx, s.endpoints.Joke, &resp); err != nil {
			return "", err
		}
		if resp.Joke == "" {
			return "", fmt.Errorf("joke response empty")
		}
		return resp.Joke, nil
	})
}

func (s *Set) fetchStatus(ctx context.Context) (models.DeviceStatus, bool) {
	if s.probe == nil || s.deviceID == "" {
		return models.DeviceStatus{}, false
	}
	return cache.Fetch(s.cache, "device_status/"+s.deviceID, statusTTL, statusMaxStale, func() (models.DeviceStatus, error) {
		return s.probe.DeviceStatus(ctx, s.deviceID)
	})
}

func (s *Set) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "inkboard (e-paper dashboard)")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned %d", req.URL.Host, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Host, err)
	}
	return nil
}

// describeWeather maps WMO weather codes to short labels.
func describeWeather(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67:
		return "Rain"
	case code >= 71 && code <= 77:
		return "Snow"
	case code >= 80 && code <= 82:
		return "Showers"
	case code >= 85 && code <= 86:
		return "Snow showers"
	case code >= 95:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}
