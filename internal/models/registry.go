// Package models resolves which LLM each committee member speaks through.
package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lorenzotomasdiez/committee/internal/openrouter"
)

// Catalog indexes the models offered by the gateway.
type Catalog struct {
	all  []openrouter.Model
	byID map[string]openrouter.Model
}

// NewCatalog builds a catalog sorted by model id.
func NewCatalog(models []openrouter.Model) *Catalog {
	all := make([]openrouter.Model, len(models))
	copy(all, models)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	byID := make(map[string]openrouter.Model, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}
	return &Catalog{all: all, byID: byID}
}

// Models returns every model in the catalog.
func (c *Catalog) Models() []openrouter.Model {
	return c.all
}

// Has reports whether the gateway offers id.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Free returns the models whose prompt and completion are both priced at
// zero. Models with nil Pricing are excluded.
func (c *Catalog) Free() []openrouter.Model {
	var free []openrouter.Model
	for _, m := range c.all {
		if isFree(m) {
			free = append(free, m)
		}
	}
	return free
}

// Search returns models whose id or name contains q, case-insensitively.
func (c *Catalog) Search(q string) []openrouter.Model {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return c.all
	}
	var out []openrouter.Model
	for _, m := range c.all {
		if strings.Contains(strings.ToLower(m.ID), q) || strings.Contains(strings.ToLower(m.Name), q) {
			out = append(out, m)
		}
	}
	return out
}

func isFree(m openrouter.Model) bool {
	return m.Pricing != nil && m.Pricing.Prompt == "0" && m.Pricing.Completion == "0"
}

// Resolver maps agent keys to model ids: a per-agent override when one is
// configured, the default model otherwise.
type Resolver struct {
	defaultModel string
	overrides    map[string]string
}

// NewResolver creates a resolver. Blank overrides are ignored.
func NewResolver(defaultModel string, overrides map[string]string) *Resolver {
	o := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if v = strings.TrimSpace(v); v != "" {
			o[k] = v
		}
	}
	return &Resolver{defaultModel: defaultModel, overrides: o}
}

// For returns the model agentKey should use.
func (r *Resolver) For(agentKey string) string {
	if m, ok := r.overrides[agentKey]; ok {
		return m
	}
	return r.defaultModel
}

// Default returns the model used by agents without an override.
func (r *Resolver) Default() string {
	return r.defaultModel
}

// Validate checks every resolved model against the catalog.
func (r *Resolver) Validate(c *Catalog) error {
	if !c.Has(r.defaultModel) {
		return fmt.Errorf("models: default model %q not offered by the gateway", r.defaultModel)
	}
	keys := make([]string, 0, len(r.overrides))
	for k := range r.overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !c.Has(r.overrides[k]) {
			return fmt.Errorf("models: model %q for agent %s not offered by the gateway", r.overrides[k], k)
		}
	}
	return nil
}
