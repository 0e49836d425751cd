// Package fleet talks to the device fleet backend: session login, device
// listing with display geometry and status, and per-device image upload.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrLoginFailed      = errors.New("fleet login failed")
	ErrUnexpectedStatus = errors.New("unexpected fleet response status")
	ErrDeviceNotFound   = errors.New("device not found")
)

// UploadFileName is the multipart filename sent with every image push.
const UploadFileName = "screen.png"

// Client creates authenticated sessions against the fleet backend
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewClient creates a client from fleet configuration
func NewClient(cfg *config.FleetConfig, logger *zap.Logger) *Client {
	return New(cfg.BaseURL(), cfg.Username, cfg.Password, time.Duration(cfg.Timeout)*time.Second, logger)
}

// New creates a client for baseURL. Every request made through its sessions
// is bounded by timeout.
func New(baseURL, username, password string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		timeout:  timeout,
		logger:   logger,
	}
}

// Session is a cookie-authenticated connection valid for one discovery or delivery cycle
type Session struct {
	client *Client
	http   *http.Client
}

// Login posts credentials and returns a session carrying the auth cookie.
// Redirects are not followed; 200 and 302 both mean success.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := &http.Client{
		Jar:     jar,
		Timeout: c.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach fleet backend: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	c.logger.Debug("Fleet session established",
		zap.String("base_url", c.baseURL),
		zap.Int("status", resp.StatusCode))

	return &Session{client: c, http: hc}, nil
}

// DeviceRecord is one entry of the backend device listing
type DeviceRecord struct {
	UUID     string        `json:"Uuid"`
	Options  DeviceOptions `json:"Options"`
	Displays []Display     `json:"Displays"`
	Status   DeviceState   `json:"Status"`
}

// DeviceOptions holds backend-side device settings. Allowed is the string "true" for enrolled devices.
type DeviceOptions struct {
	Allowed  string `json:"Allowed"`
	Name     string `json:"Name"`
	Revision string `json:"Revision"`
}

// Display is the reported panel geometry
type Display struct {
	Width  int `json:"Width"`
	Height int `json:"Height"`
}

// DeviceState is the last status report of a device
type DeviceState struct {
	Battery     Number `json:"Battery"`
	Temperature Number `json:"Temperature"`
}

// Number accepts both JSON numbers and numeric strings.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Allowed reports whether the backend allows pushing to this device.
func (d DeviceRecord) Allowed() bool {
	return d.Options.Allowed == "true"
}

// ListDevices returns every device known to the backend
func (s *Session) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.baseURL+"/api/device/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create device list request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: device list returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var devices []DeviceRecord
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode device list: %w", err)
	}

	return devices, nil
}

// PushImage uploads an encoded PNG to a device. Any 2xx response is success.
func (s *Session) PushImage(ctx context.Context, deviceID string, png []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, UploadFileName))
	header.Set("Content-Type", "image/png")

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return fmt.Errorf("failed to write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	endpoint := s.client.baseURL + "/backend/" + url.PathEscape(deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: push returned %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// DeviceStatus logs in and returns the battery and temperature of one device.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	session, err := c.Login(ctx)
	if err != nil {
		return models.DeviceStatus{}, err
	}

	devices, err := session.ListDevices(ctx)
	if err != nil {
		return models.DeviceStatus{}, err
	}

	for _, d := range devices {
		if d.UUID != deviceID {
			continue
		}
		return models.DeviceStatus{
			DeviceID:    d.UUID,
			Battery:     float64(d.Status.Battery),
			Temperature: float64(d.Status.Temperature),
			ReportedAt:  time.Now(),
		}, nil
	}

	return models.DeviceStatus{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}
