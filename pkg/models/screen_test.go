package models

import (
	"os"
	"path/filepath"
	"testing"
)

const testCatalog = `
- name: dashboard
  title: Main Dashboard
  desc: Clock, weather, device status
- name: quote
  title: Daily Quote
  desc: Inspirational quote of the day
- title: Nameless
- name: dashboard
  title: Overview
`

func TestParseScreenCatalog(t *testing.T) {
	c, err := ParseScreenCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "dashboard" || list[1].Name != "quote" {
		t.Errorf("order = %s, %s", list[0].Name, list[1].Name)
	}
	if list[0].Title != "Overview" {
		t.Errorf("duplicate should replace title, got %q", list[0].Title)
	}
}

func TestParseScreenCatalog_InvalidYAML(t *testing.T) {
	if _, err := ParseScreenCatalog([]byte(": : bad yaml [[[")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadScreenCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screens.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	c, err := LoadScreenCatalog(path)
	if err != nil {
		t.Fatalf("LoadScreenCatalog: %v", err)
	}
	if _, ok := c.Get("quote"); !ok {
		t.Error("expected quote in catalog")
	}

	if _, err := LoadScreenCatalog(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestScreenCatalog_MarkAvailable(t *testing.T) {
	c, _ := ParseScreenCatalog([]byte(testCatalog))
	c.MarkAvailable([]string{"quote", "clock"})

	if s, _ := c.Get("dashboard"); s.Available {
		t.Error("dashboard should not be available")
	}
	if s, _ := c.Get("quote"); !s.Available {
		t.Error("quote should be available")
	}
	s, ok := c.Get("clock")
	if !ok || !s.Available || s.Title != "clock" {
		t.Errorf("clock should be added as available, got %+v", s)
	}
	if got := len(c.List()); got != 3 {
		t.Errorf("len = %d, want 3", got)
	}
}

func TestPushResultOK(t *testing.T) {
	if !(PushResult{DeviceID: "a"}).OK() {
		t.Error("empty error should be OK")
	}
	if (PushResult{DeviceID: "a", Error: "boom"}).OK() {
		t.Error("non-empty error should not be OK")
	}
}
