// Package template renders the prompt templates the pipeline feeds to the
// agent.
//
// Templates are addressed by id ("plan/feature_analysis",
// "run/phase1_observer", ..., "run/resume"). Defaults are embedded in the
// binary; a template directory may shadow any of them with a file at
// <dir>/<id>.md. A side-car <dir>/<id>.toml next to an override carries
// per-invocation phase settings (tool lists, permission mode, max turns,
// budget) that take precedence over the phase catalog.
package template

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/BurntSushi/toml"
)

//go:embed all:templates
var templateFS embed.FS

// ErrTemplateNotFound is returned when an id resolves to neither an
// override file nor an embedded default.
var ErrTemplateNotFound = errors.New("template not found")

// Sidecar carries per-template overrides of phase catalog settings. Zero
// fields mean "no override".
type Sidecar struct {
	AllowedTools    []string `toml:"allowed_tools"`
	DisallowedTools []string `toml:"disallowed_tools"`
	PermissionMode  string   `toml:"permission_mode"`
	MaxTurns        int      `toml:"max_turns"`
	MaxBudgetUSD    float64  `toml:"max_budget_usd"`
	SystemPrompt    string   `toml:"system_prompt"`
}

// Context is the key/value data a template renders with.
type Context map[string]any

// Renderer resolves and renders templates.
type Renderer struct {
	// dir is the optional override directory. Empty means embedded only.
	dir string
}

// NewRenderer creates a renderer with an optional override directory.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render renders the template id with the given context. Missing context
// keys render as "<no value>", which template authors avoid by always
// passing the documented keys.
func (r *Renderer) Render(id string, ctx Context) (string, error) {
	source, err := r.source(id)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(id).Parse(source)
	if err != nil {
		return "", fmt.Errorf("template: parsing %q: %w", id, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		return "", fmt.Errorf("template: rendering %q: %w", id, err)
	}
	return buf.String(), nil
}

// Sidecar loads the side-car configuration for a template id from the
// override directory. Returns (zero, false) when there is none.
func (r *Renderer) Sidecar(id string) (Sidecar, bool) {
	if r.dir == "" {
		return Sidecar{}, false
	}
	path := filepath.Join(r.dir, filepath.FromSlash(id)+".toml")
	var sc Sidecar
	if _, err := toml.DecodeFile(path, &sc); err != nil {
		return Sidecar{}, false
	}
	return sc, true
}

// Has reports whether the id resolves to a template.
func (r *Renderer) Has(id string) bool {
	_, err := r.source(id)
	return err == nil
}

// source resolves the template text, preferring the override directory.
func (r *Renderer) source(id string) (string, error) {
	if r.dir != "" {
		path := filepath.Join(r.dir, filepath.FromSlash(id)+".md")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	data, err := templateFS.ReadFile("templates/" + id + ".md")
	if err != nil {
		return "", fmt.Errorf("template: %w: %s", ErrTemplateNotFound, id)
	}
	return string(data), nil
}
