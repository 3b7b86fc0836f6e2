package engine

import (
	"github.com/synoptic-visualizer/backend/internal/models"
)

// Resolver maps a (source, topic) pair to the bound elements that react to
// it. Lookups are cached per identifier string, empty results included;
// diagrams are typically partial views over the topic space, so misses are
// expected and silent. The cache lives for one diagram session: a reload
// builds a fresh resolver.
type Resolver struct {
	doc   *models.DiagramDocument
	cache map[string][]*models.Element
}

func NewResolver(doc *models.DiagramDocument) *Resolver {
	return &Resolver{
		doc:   doc,
		cache: make(map[string][]*models.Element),
	}
}

// Resolve tries the scoped identifier first and falls back to the generic
// one only when the scoped lookup yields nothing.
func (r *Resolver) Resolve(sourceID, topicID string) []*models.Element {
	if els := r.lookup(models.ScopedIdentifier(sourceID, topicID)); len(els) > 0 {
		return els
	}
	return r.lookup(models.NormalizeTopic(topicID))
}

func (r *Resolver) lookup(identifier string) []*models.Element {
	if cached, ok := r.cache[identifier]; ok {
		return cached
	}

	var els []*models.Element
	if container := r.doc.ElementByID(identifier); container != nil {
		els = models.BoundElementsWithin(container)
	}
	r.cache[identifier] = els
	return els
}

// CacheSize returns the number of cached identifier lookups.
func (r *Resolver) CacheSize() int {
	return len(r.cache)
}
