// Package messages renders the user-facing texts of the bot from a YAML
// catalog of text/template sources.
package messages

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed texts.yaml
var defaultCatalog []byte

// Catalog holds parsed templates by key.
type Catalog struct {
	templates map[string]*template.Template
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog, nil)
}

// Load returns the embedded catalog with entries from the YAML file at path
// layered on top. An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages %s: %w", path, err)
	}
	return parse(defaultCatalog, raw)
}

func parse(base, override []byte) (*Catalog, error) {
	sources := map[string]string{}
	if err := yaml.Unmarshal(base, &sources); err != nil {
		return nil, fmt.Errorf("decode embedded messages: %w", err)
	}
	if len(override) > 0 {
		extra := map[string]string{}
		if err := yaml.Unmarshal(override, &extra); err != nil {
			return nil, fmt.Errorf("decode messages override: %w", err)
		}
		for key, src := range extra {
			sources[key] = src
		}
	}
	c := &Catalog{templates: make(map[string]*template.Template, len(sources))}
	for key, src := range sources {
		tmpl, err := template.New(key).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse message %s: %w", key, err)
		}
		c.templates[key] = tmpl
	}
	return c, nil
}

// Render executes the template for key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	tmpl, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown message %q", key)
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render message %s: %w", key, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Text renders key and falls back to the key itself when rendering fails, so
// a broken override never silences a reply.
func (c *Catalog) Text(key string, data any) string {
	out, err := c.Render(key, data)
	if err != nil {
		return key
	}
	return out
}

// Keys lists the catalog keys, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.templates))
	for k := range c.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
