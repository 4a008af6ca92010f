// Package themes loads and serves the character-theme allow-list the
// Submission Gateway checks `character_theme` against. Grounded on
// original_source/api/config.py's AVAILABLE_THEMES list and spec §9's design
// note ("Per-speaker character tables: tagged-variant configuration keyed
// by theme, enumerated at startup"); loaded from YAML the way
// wisbric-nightowl's pkg/tenantconfig loads tenant-scoped YAML config,
// using the same gopkg.in/yaml.v3 dependency.
package themes

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

// Speaker is one character voice available within a theme.
type Speaker struct {
	Name      string `yaml:"name"`
	VoiceID   string `yaml:"voice_id"`
	ImagePath string `yaml:"image_path"`
}

// Theme is one allowed `character_theme` value and its speaker roster.
type Theme struct {
	Key      string    `yaml:"key"`
	Title    string    `yaml:"title"`
	Speakers []Speaker `yaml:"speakers"`
}

type fileFormat struct {
	Themes []Theme `yaml:"themes"`
}

// Registry is the enumerated-at-startup theme allow-list. It never changes
// after Load, so every method is safe for concurrent use without locking.
type Registry struct {
	byKey map[string]Theme
}

// Load reads the theme roster from a YAML file. Spec §9: "enumerated at
// startup" — there is deliberately no hot-reload or admin mutation path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cperr.New("themes.Load", cperr.KindInternal, err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, cperr.New("themes.Load", cperr.KindInternal, err)
	}
	if len(ff.Themes) == 0 {
		return nil, cperr.New("themes.Load", cperr.KindInternal, fmt.Errorf("%s: no themes defined", path))
	}
	byKey := make(map[string]Theme, len(ff.Themes))
	for _, t := range ff.Themes {
		byKey[t.Key] = t
	}
	return &Registry{byKey: byKey}, nil
}

// Allowed reports whether key is a known theme. Spec §4.1 `submit`: "Validate
// theme against allow-list; reject with BAD_THEME otherwise."
func (r *Registry) Allowed(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Get returns the full Theme for key, for callers that need the speaker
// roster (e.g. the render worker picking voices/images per speaker turn).
func (r *Registry) Get(key string) (Theme, bool) {
	t, ok := r.byKey[key]
	return t, ok
}

// List returns every theme's key and display title, sorted for stable
// output, matching original_source/api/main.py's GET /themes endpoint.
func (r *Registry) List() []Theme {
	out := make([]Theme, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
