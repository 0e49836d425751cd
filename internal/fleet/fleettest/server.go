// Package fleettest provides an in-process fleet backend for tests.
package fleettest

import (
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/koios/inkboard/internal/fleet"
)

const sessionCookie = "session"

// Push is one image upload received by the server
type Push struct {
	DeviceID    string
	FileName    string
	ContentType string
	Image       image.Image
	Bytes       int
}

// Server mimics the login, device list and image push endpoints
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	devices     []fleet.DeviceRecord
	loginStatus int
	listStatus  int
	pushStatus  map[string]int
	pushes      []Push
	logins      int
	lists       int
}

// NewServer starts a backend that accepts any credentials
func NewServer() *Server {
	s := &Server{
		loginStatus: http.StatusFound,
		listStatus:  http.StatusOK,
		pushStatus:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/api/device/", s.handleDevices)
	mux.HandleFunc("/backend/", s.handlePush)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetDevices replaces the device listing
func (s *Server) SetDevices(devices ...fleet.DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
}

// SetLoginStatus sets the status code returned by /login
func (s *Server) SetLoginStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStatus = code
}

// SetListStatus sets the status code returned by the device listing
func (s *Server) SetListStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = code
}

// FailPush makes pushes to deviceID return code
func (s *Server) FailPush(deviceID string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushStatus[deviceID] = code
}

// Pushes returns the successful uploads in arrival order
func (s *Server) Pushes() []Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Push(nil), s.pushes...)
}

// Logins returns the number of successful logins
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Lists returns the number of device list requests
func (s *Server) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// Device builds an allowed device record with the given display size.
// A zero size omits the display geometry.
func Device(id, name string, width, height int) fleet.DeviceRecord {
	d := fleet.DeviceRecord{
		UUID:    id,
		Options: fleet.DeviceOptions{Allowed: "true", Name: name},
	}
	if width > 0 && height > 0 {
		d.Displays = []fleet.Display{{Width: width, Height: height}}
	}
	return d
}

func (s *Server) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == "ok"
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("username") == "" {
		http.Error(w, "Bad credentials", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	code := s.loginStatus
	if code == http.StatusOK || code == http.StatusFound {
		s.logins++
	}
	s.mu.Unlock()

	if code == http.StatusOK || code == http.StatusFound {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "ok", Path: "/"})
	}
	if code == http.StatusFound {
		w.Header().Set("Location", "/")
	}
	w.WriteHeader(code)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.lists++
	code := s.listStatus
	devices := append([]fleet.DeviceRecord(nil), s.devices...)
	s.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "Unavailable", code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/backend/")

	s.mu.Lock()
	code, failing := s.pushStatus[deviceID]
	s.mu.Unlock()
	if failing {
		http.Error(w, "Device rejected image", code)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Missing image", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		http.Error(w, "Invalid PNG", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.pushes = append(s.pushes, Push{
		DeviceID:    deviceID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Image:       img,
		Bytes:       int(header.Size),
	})
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
