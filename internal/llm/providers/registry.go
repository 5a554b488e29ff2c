package providers

import (
	"strings"
	"sync"
)

var prefixes = []struct {
	prefix string
	key    string
}{
	{"anthropic/", "anthropic"},
	{"openai/", "openai"},
	{"google/", "google"},
}

// Registry hands out one strategy instance per vendor, created on first use.
type Registry struct {
	mu        sync.Mutex
	instances map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]Provider)}
}

// KeyFor returns the vendor key for a model id. Unknown prefixes map to generic.
func KeyFor(model string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(model, p.prefix) {
			return p.key
		}
	}
	return "generic"
}

// For returns the strategy for model.
func (r *Registry) For(model string) Provider {
	key := KeyFor(model)
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.instances[key]; ok {
		return p
	}
	p := create(key)
	r.instances[key] = p
	return p
}

func create(key string) Provider {
	switch key {
	case "anthropic":
		return &Anthropic{}
	case "openai":
		return OpenAI{}
	case "google":
		return Google{}
	default:
		return Generic{}
	}
}
