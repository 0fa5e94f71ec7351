package parser

import (
	"strings"
	"sync"

	"github.com/docstack/docstack/interfaces"
)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]interfaces.ParserFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]interfaces.ParserFactory),
	}
}

// Register binds a parser factory to a mime type, replacing any previous
// binding.
func (r *Registry) Register(mimeType string, factory interfaces.ParserFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeMime(mimeType)] = factory
}

func (r *Registry) ForMimeType(mimeType string) interfaces.ParserFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[normalizeMime(mimeType)]
}

func (r *Registry) IsSupported(mimeType string) bool {
	return r.ForMimeType(mimeType) != nil
}

// normalizeMime drops parameters like "; charset=utf-8" and lowercases.
func normalizeMime(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// DefaultRegistry returns a registry with the built-in parsers bound.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("text/plain", NewTextParser)
	r.Register("text/csv", NewTextParser)
	r.Register("application/pdf", NewPdfParser)
	r.Register("message/rfc822", NewMailParser)
	return r
}
