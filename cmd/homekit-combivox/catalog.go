package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	combivox "github.com/caarlos0/homekit-combivox"
	"gopkg.in/yaml.v3"
)

// catalogFile caches the panel catalog, which takes a while to download.
type catalogFile struct {
	Host    string           `yaml:"host"`
	Updated time.Time        `yaml:"updated"`
	Catalog combivox.Catalog `yaml:"catalog"`
}

// loadCatalog reads the cached catalog for host. A missing file, or one
// written for another panel, is not an error.
func loadCatalog(path, host string) (combivox.Catalog, bool, error) {
	if path == "" {
		return combivox.Catalog{}, false, nil
	}
	bts, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return combivox.Catalog{}, false, nil
	}
	if err != nil {
		return combivox.Catalog{}, false, fmt.Errorf("could not read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(bts, &f); err != nil {
		return combivox.Catalog{}, false, fmt.Errorf("could not parse catalog: %w", err)
	}
	if f.Host != host || f.Catalog.Empty() {
		return combivox.Catalog{}, false, nil
	}
	return f.Catalog, true, nil
}

func saveCatalog(path, host string, cat combivox.Catalog) error {
	if path == "" {
		return nil
	}
	bts, err := yaml.Marshal(catalogFile{
		Host:    host,
		Updated: time.Now().UTC().Truncate(time.Second),
		Catalog: cat,
	})
	if err != nil {
		return fmt.Errorf("could not encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not save catalog: %w", err)
	}
	if err := os.WriteFile(path, bts, 0o644); err != nil {
		return fmt.Errorf("could not save catalog: %w", err)
	}
	return nil
}
