// Package models holds the registry of known LLM models and their
// capabilities. The optimizer needs a model's hard context window to clamp
// request payloads; the turn controller needs the vision flag to decide
// whether image parts may be sent at all.
package models

import "strings"

// Info describes the capabilities of a single model.
type Info struct {
	// ContextWindow is the hard token ceiling the model accepts across
	// prompt, history and completion.
	ContextWindow int `yaml:"context_window"`

	// Vision indicates whether the model accepts image content parts.
	Vision bool `yaml:"vision"`
}

// DefaultInfo is the conservative fallback used when a model id is not
// registered: small window, no vision.
var DefaultInfo = Info{ContextWindow: 8192, Vision: false}

// Registry maps model ids to their capabilities. The built-in table can be
// extended (or overridden) from config.
type Registry struct {
	entries map[string]Info
}

// NewRegistry creates a registry with the built-in model table, merged with
// the given overrides (overrides win).
func NewRegistry(overrides map[string]Info) *Registry {
	entries := make(map[string]Info, len(builtin)+len(overrides))
	for id, info := range builtin {
		entries[id] = info
	}
	for id, info := range overrides {
		entries[id] = info
	}
	return &Registry{entries: entries}
}

// Lookup returns the capabilities for a model id. Unknown ids fall back to
// the longest matching family prefix (so "glm-4v-plus" resolves via
// "glm-4v", not "glm-4"), then to DefaultInfo.
func (r *Registry) Lookup(model string) Info {
	if info, ok := r.entries[model]; ok {
		return info
	}
	if prefix, ok := longestPrefix(model); ok {
		return builtin[prefix]
	}
	return DefaultInfo
}

// Known reports whether the model id resolves to a registered entry rather
// than the conservative default.
func (r *Registry) Known(model string) bool {
	if _, ok := r.entries[model]; ok {
		return true
	}
	_, ok := longestPrefix(model)
	return ok
}

// longestPrefix finds the longest builtin family prefix of a model id.
func longestPrefix(model string) (string, bool) {
	best := ""
	for prefix := range builtin {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return best, best != ""
}

// builtin is the table of known model families. Keys double as prefixes for
// versioned releases (e.g. "gpt-4o-2024-08-06" matches "gpt-4o").
var builtin = map[string]Info{
	// OpenAI
	"gpt-5":       {ContextWindow: 400000, Vision: true},
	"gpt-4o":      {ContextWindow: 128000, Vision: true},
	"gpt-4o-mini": {ContextWindow: 128000, Vision: true},
	"gpt-4.1":     {ContextWindow: 1047576, Vision: true},
	"o3":          {ContextWindow: 200000, Vision: true},
	"o4-mini":     {ContextWindow: 200000, Vision: true},

	// Anthropic
	"claude-opus-4":   {ContextWindow: 200000, Vision: true},
	"claude-sonnet-4": {ContextWindow: 200000, Vision: true},
	"claude-3":        {ContextWindow: 200000, Vision: true},

	// Z.AI GLM
	"glm-5":  {ContextWindow: 200000, Vision: false},
	"glm-4":  {ContextWindow: 128000, Vision: false},
	"glm-4v": {ContextWindow: 8192, Vision: true},

	// xAI
	"grok-4": {ContextWindow: 256000, Vision: true},
	"grok-3": {ContextWindow: 131072, Vision: false},

	// Common local models
	"llama":    {ContextWindow: 131072, Vision: false},
	"mistral":  {ContextWindow: 32768, Vision: false},
	"qwen":     {ContextWindow: 32768, Vision: false},
	"deepseek": {ContextWindow: 65536, Vision: false},
}
