package screens

import (
	_ "embed"

	"github.com/koios/inkboard/pkg/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog describes the built-in screens.
func Catalog() (*models.ScreenCatalog, error) {
	return models.ParseScreenCatalog(catalogYAML)
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*models.ScreenCatalog, error) {
	if path == "" {
		return Catalog()
	}
	return models.LoadScreenCatalog(path)
}
