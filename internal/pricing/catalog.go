package pricing

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// CatalogItem is one priced component. Prices are unit prices.
type CatalogItem struct {
	Key         string  `json:"item_key" yaml:"item_key"`
	Name        string  `json:"name" yaml:"name"`
	DefaultSpec string  `json:"default_spec" yaml:"default_spec"`
	Unit        string  `json:"unit" yaml:"unit"`
	Low         float64 `json:"low" yaml:"low"`
	High        float64 `json:"high" yaml:"high"`
}

// Catalog is the price list plans are built from.
type Catalog struct {
	Items []CatalogItem `json:"items" yaml:"items"`

	byKey map[string]CatalogItem
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("pricing: built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog file. An empty path returns the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseCatalog(file)
}

// ParseCatalog parses and checks a catalog from r.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	c.byKey = make(map[string]CatalogItem, len(c.Items))
	for i, it := range c.Items {
		if it.Key == "" {
			return nil, fmt.Errorf("catalog item %d has no item_key", i)
		}
		if _, dup := c.byKey[it.Key]; dup {
			return nil, fmt.Errorf("catalog item %q is listed twice", it.Key)
		}
		if it.Low < 0 || it.Low > it.High {
			return nil, fmt.Errorf("catalog item %q has invalid price range %v-%v", it.Key, it.Low, it.High)
		}
		c.byKey[it.Key] = it
	}
	return &c, nil
}

// Item looks up a catalog entry by key.
func (c *Catalog) Item(key string) (CatalogItem, bool) {
	it, ok := c.byKey[key]
	return it, ok
}
