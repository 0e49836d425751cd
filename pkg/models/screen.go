package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScreenInfo describes a screen for listings and the playlist editor
type ScreenInfo struct {
	Name        string `yaml:"name" json:"name"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"desc" json:"description"`

	// Runtime field (not in catalog)
	Available bool `yaml:"-" json:"available"`
}

// ScreenCatalog keeps screen descriptions in catalog order
type ScreenCatalog struct {
	screens map[string]*ScreenInfo
	order   []string
}

// NewScreenCatalog creates an empty catalog
func NewScreenCatalog() *ScreenCatalog {
	return &ScreenCatalog{
		screens: make(map[string]*ScreenInfo),
	}
}

// ParseScreenCatalog builds a catalog from a YAML list of screens.
// Entries without a name are skipped; a repeated name keeps its first position.
func ParseScreenCatalog(data []byte) (*ScreenCatalog, error) {
	var entries []ScreenInfo
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse screen catalog: %w", err)
	}

	c := NewScreenCatalog()
	for i := range entries {
		if entries[i].Name == "" {
			continue
		}
		c.Add(entries[i])
	}
	return c, nil
}

// LoadScreenCatalog reads a catalog file from disk
func LoadScreenCatalog(path string) (*ScreenCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screen catalog: %w", err)
	}
	return ParseScreenCatalog(data)
}

// Add inserts or replaces a screen description
func (c *ScreenCatalog) Add(info ScreenInfo) {
	if _, exists := c.screens[info.Name]; !exists {
		c.order = append(c.order, info.Name)
	}
	c.screens[info.Name] = &info
}

// Get returns a screen by name
func (c *ScreenCatalog) Get(name string) (*ScreenInfo, bool) {
	s, exists := c.screens[name]
	return s, exists
}

// List returns copies of all screens in catalog order
func (c *ScreenCatalog) List() []ScreenInfo {
	out := make([]ScreenInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, *c.screens[name])
	}
	return out
}

// MarkAvailable flags the named screens as having a registered producer.
func (c *ScreenCatalog) MarkAvailable(names []string) {
	for _, name := range names {
		if s, ok := c.screens[name]; ok {
			s.Available = true
			continue
		}
		c.Add(ScreenInfo{Name: name, Title: name, Available: true})
	}
}
