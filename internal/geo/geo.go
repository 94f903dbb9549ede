// Package geo carries the static Moscow catalog: administrative districts with
// their search-query ids and official names, and the metro lines.
package geo

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// District is one administrative district (okrug).
type District struct {
	Code  string `yaml:"code" json:"code"`
	Name  string `yaml:"name" json:"name"`
	Okrug int    `yaml:"okrug" json:"okrug"`
}

// Line is one metro line with its stations.
type Line struct {
	Code     string   `yaml:"code" json:"code"`
	Name     string   `yaml:"name" json:"name"`
	Stations []string `yaml:"stations" json:"stations"`
}

// Catalog indexes districts and lines.
type Catalog struct {
	Districts []District `yaml:"districts" json:"districts"`
	Lines     []Line     `yaml:"lines" json:"lines"`

	byCode map[string]District
	byName map[string]District
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded file is broken.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogYAML)
		if err != nil {
			panic(fmt.Sprintf("geo: embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c.byCode = make(map[string]District, len(c.Districts))
	c.byName = make(map[string]District, len(c.Districts))
	for _, d := range c.Districts {
		if d.Code == "" || d.Okrug == 0 {
			return nil, fmt.Errorf("district %q is missing code or okrug id", d.Name)
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, fmt.Errorf("duplicate district code %q", d.Code)
		}
		c.byCode[d.Code] = d
		c.byName[strings.ToLower(d.Name)] = d
	}
	return &c, nil
}

// DistrictByCode looks a district up by short code (ЦАО, САО, ...).
func (c *Catalog) DistrictByCode(code string) (District, bool) {
	d, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return d, ok
}

// DistrictByName looks a district up by its official full name.
func (c *Catalog) DistrictByName(name string) (District, bool) {
	d, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Line returns the metro line with the given code.
func (c *Catalog) Line(code string) (Line, bool) {
	for _, l := range c.Lines {
		if l.Code == code {
			return l, true
		}
	}
	return Line{}, false
}

// Stations returns every station of every line.
func (c *Catalog) Stations() []string {
	var out []string
	for _, l := range c.Lines {
		out = append(out, l.Stations...)
	}
	return out
}
