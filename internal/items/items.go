// Package items provides the competing items of a tournament, read from YAML catalogs.
package items

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/duel-tourney-backend/internal/engine"
)

var ErrUnknownSource = errors.New("unknown item source")

// Catalog is one item source, e.g. a YAML file:
//
//	id: snacks
//	name: Best snack
//	items:
//	  - id: crisps
//	    name: Crisps
//	    image: https://example.org/crisps.png
type Catalog struct {
	ID    string        `yaml:"id"`
	Name  string        `yaml:"name"`
	Items []engine.Item `yaml:"items"`
}

// Static serves catalogs from memory.
type Static map[string][]engine.Item

func (s Static) Items(_ context.Context, sourceID string) ([]engine.Item, error) {
	its, ok := s[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	return slices.Clone(its), nil
}

// LoadDir reads every *.yaml / *.yml file in dir. A catalog without an id is
// named after its file. A missing directory yields an empty set.
func LoadDir(dir string) (Static, error) {
	out := Static{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read items dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		cat, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		if cat.ID == "" {
			cat.ID = strings.TrimSuffix(entry.Name(), ext)
		}
		if _, dup := out[cat.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate source id %q", path, cat.ID)
		}
		out[cat.ID] = cat.Items
	}
	return out, nil
}

func Parse(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse yaml: %w", err)
	}
	for i, it := range cat.Items {
		if strings.TrimSpace(it.ID) == "" {
			return Catalog{}, fmt.Errorf("item %d has no id", i)
		}
		if it.Name == "" {
			cat.Items[i].Name = it.ID
		}
	}
	return cat, nil
}
