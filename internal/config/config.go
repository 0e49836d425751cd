package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultActiveHours is used whenever ACTIVE_HOURS is missing or malformed.
	DefaultActiveHours = "07:00-21:00"

	// PlaylistFromFile tells Load to read the enabled screens from PLAYLIST_FILE.
	PlaylistFromFile = "config"

	minFileInterval = 60
	maxFileInterval = 3600
)

// Config holds all configuration for the application
type Config struct {
	Fleet    FleetConfig
	Playlist PlaylistConfig
	Canvas   CanvasConfig
	Weather  WeatherConfig
	Server   ServerConfig
	Redis    RedisConfig
	LogLevel string `validate:"oneof=debug info warn error"`
}

// FleetConfig holds the device fleet backend connection settings
type FleetConfig struct {
	Host      string `validate:"required"`
	Port      int    `validate:"min=1,max=65535"`
	Username  string `validate:"required"`
	Password  string
	DeviceIDs []string
	Timeout   int `validate:"min=1"` // seconds per request
}

// BaseURL returns the fleet backend root URL.
func (f FleetConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", f.Host, f.Port)
}

// PlaylistConfig holds the rotation settings
type PlaylistConfig struct {
	Screens         []string `validate:"required,min=1,dive,required"`
	IntervalSeconds int      `validate:"min=1"`
	ActiveHours     ActiveHours
	ActiveHoursRaw  string
	File            string
	RenderTimeout   int `validate:"min=1"` // seconds
}

// ActiveHours is the daily operating window in minutes since local midnight.
type ActiveHours struct {
	StartMinute int `validate:"min=0,max=1439"`
	EndMinute   int `validate:"min=0,max=1439"`
}

// CanvasConfig holds the logical render resolution
type CanvasConfig struct {
	Width  int `validate:"min=1"`
	Height int `validate:"min=1"`
}

// WeatherConfig holds the dashboard forecast location
type WeatherConfig struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
	Location  string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         int // 0 disables the status API
	ReadTimeout  int
	WriteTimeout int
	CatalogFile  string // replaces the built-in screen catalog when set
}

// RedisConfig holds Redis-related configuration. An empty Addr disables the cache mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// playlistFile is the on-disk shape written by the playlist editor.
type playlistFile struct {
	Enabled     []string `yaml:"enabled"`
	Interval    int      `yaml:"interval"`
	ActiveHours string   `yaml:"active_hours"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	deviceIDs := getEnv("DEVICE_UUIDS", getEnv("DEVICE_UUID", ""))

	cfg := &Config{
		Fleet: FleetConfig{
			Host:      getEnv("VSS_HOST", "192.168.6.6"),
			Port:      getEnvAsInt("VSS_PORT", 8081),
			Username:  getEnv("VSS_USER", "admin"),
			Password:  getEnv("VSS_PASS", ""),
			DeviceIDs: splitList(deviceIDs),
			Timeout:   getEnvAsInt("VSS_TIMEOUT", 10),
		},
		Playlist: PlaylistConfig{
			Screens:         splitList(getEnv("PLAYLIST", "dashboard")),
			IntervalSeconds: getEnvAsInt("INTERVAL", 180),
			ActiveHoursRaw:  getEnv("ACTIVE_HOURS", DefaultActiveHours),
			File:            getEnv("PLAYLIST_FILE", "playlist_config.json"),
			RenderTimeout:   getEnvAsInt("RENDER_TIMEOUT", 60),
		},
		Canvas: CanvasConfig{
			Width:  getEnvAsInt("CANVAS_WIDTH", 1600),
			Height: getEnvAsInt("CANVAS_HEIGHT", 1200),
		},
		Weather: WeatherConfig{
			Latitude:  getEnvAsFloat("WEATHER_LAT", 51.845),
			Longitude: getEnvAsFloat("WEATHER_LON", -0.943),
			Location:  getEnv("WEATHER_LOCATION", "Waddesdon"),
		},
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
			CatalogFile:  getEnv("SCREEN_CATALOG", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if len(cfg.Playlist.Screens) == 1 && cfg.Playlist.Screens[0] == PlaylistFromFile {
		if err := cfg.Playlist.loadFile(); err != nil {
			return nil, err
		}
	}

	cfg.Playlist.ActiveHours = ParseActiveHours(cfg.Playlist.ActiveHoursRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadFile replaces the screen list and interval with the playlist editor's file.
// JSON is a subset of YAML, so the editor's playlist_config.json parses unchanged.
func (p *PlaylistConfig) loadFile() error {
	data, err := os.ReadFile(p.File)
	if err != nil {
		return fmt.Errorf("failed to read playlist file: %w", err)
	}

	var file playlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse playlist file: %w", err)
	}

	p.Screens = nil
	for _, name := range file.Enabled {
		if name = strings.TrimSpace(name); name != "" {
			p.Screens = append(p.Screens, name)
		}
	}
	if file.Interval > 0 {
		p.IntervalSeconds = clamp(file.Interval, minFileInterval, maxFileInterval)
	}
	if file.ActiveHours != "" {
		p.ActiveHoursRaw = file.ActiveHours
	}
	return nil
}

// ParseActiveHours parses "HH:MM-HH:MM". Malformed input yields the 07:00-21:00 default.
func ParseActiveHours(s string) ActiveHours {
	if hours, err := parseActiveHours(s); err == nil {
		return hours
	}
	hours, _ := parseActiveHours(DefaultActiveHours)
	return hours
}

func parseActiveHours(s string) (ActiveHours, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return ActiveHours{}, fmt.Errorf("active hours %q: missing '-'", s)
	}
	start, err := parseClock(startStr)
	if err != nil {
		return ActiveHours{}, err
	}
	end, err := parseClock(endStr)
	if err != nil {
		return ActiveHours{}, err
	}
	return ActiveHours{StartMinute: start, EndMinute: end}, nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	hStr, mStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: missing ':'", s)
	}
	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: invalid hour", s)
	}
	m, err := strconv.Atoi(mStr)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: invalid minute", s)
	}
	return h*60 + m, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
