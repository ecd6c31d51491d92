package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcrew/core"
)

// InMemoryStore is a naive process-local KnowledgeStore. It offers:
//  1. Facts keyed by subject (last write wins)
//  2. Append-only triples with related-entity lookup
//
// Concurrency: protected by RWMutex.
// Search: linear scan with case-insensitive substring matching over subject
// and fact text, ordered by subject. Suitable for tests and simulated runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	facts   map[string]core.Fact
	triples []core.Triple
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory knowledge store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		facts: make(map[string]core.Fact),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// PutFact stores or replaces the fact for its subject.
func (m *InMemoryStore) PutFact(_ context.Context, fact core.Fact) error {
	if strings.TrimSpace(fact.Subject) == "" {
		return core.NewValidationError("subject", fact.Subject, "must not be empty")
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[fact.Subject] = fact
	return nil
}

// GetFact returns the fact stored for subject.
func (m *InMemoryStore) GetFact(_ context.Context, subject string) (core.Fact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[subject]
	return f, ok, nil
}

// SearchFacts returns facts whose subject or text contains query.
func (m *InMemoryStore) SearchFacts(_ context.Context, query string, limit int) ([]core.Fact, error) {
	q := strings.ToLower(query)
	m.mu.RLock()
	results := make([]core.Fact, 0)
	for _, f := range m.facts {
		if q == "" || strings.Contains(strings.ToLower(f.Subject), q) || strings.Contains(strings.ToLower(f.Fact), q) {
			results = append(results, f)
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Subject < results[j].Subject })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// AddTriple appends a relation. Exact duplicates are ignored.
func (m *InMemoryStore) AddTriple(_ context.Context, t core.Triple) error {
	if t.Subject == "" || t.Predicate == "" || t.Object == "" {
		return core.NewValidationError("triple", t, "subject, predicate and object are required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.triples {
		if existing.Subject == t.Subject && existing.Predicate == t.Predicate && existing.Object == t.Object {
			return nil
		}
	}
	m.triples = append(m.triples, t)
	return nil
}

// Related returns triples mentioning entity as subject or object, in
// insertion order.
func (m *InMemoryStore) Related(_ context.Context, entity string) ([]core.Triple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Triple, 0)
	for _, t := range m.triples {
		if t.Subject == entity || t.Object == entity {
			out = append(out, t)
		}
	}
	return out, nil
}
