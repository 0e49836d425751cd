package models

import "time"

// Device is a display target with its native pixel resolution
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DeviceStatus is the battery and temperature reported for a device
type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	Battery     float64   `json:"battery"`
	Temperature float64   `json:"temperature"`
	ReportedAt  time.Time `json:"reported_at"`
}

// PushResult records one delivery attempt to a single device
type PushResult struct {
	DeviceID string `json:"device_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int    `json:"bytes"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the push was accepted by the backend.
func (r PushResult) OK() bool {
	return r.Error == ""
}
