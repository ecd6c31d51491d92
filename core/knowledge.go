package core

import (
	"context"
	"time"
)

// Fact is a piece of knowledge keyed by subject.
type Fact struct {
	Subject    string    `json:"subject"`
	Fact       string    `json:"fact"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Triple is a subject/predicate/object relation.
type Triple struct {
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeStore provides fact storage, substring search and relation lookup.
type KnowledgeStore interface {
	PutFact(ctx context.Context, fact Fact) error
	GetFact(ctx context.Context, subject string) (Fact, bool, error)
	// SearchFacts matches query case-insensitively against subject and fact.
	// limit <= 0 means no limit.
	SearchFacts(ctx context.Context, query string, limit int) ([]Fact, error)
	AddTriple(ctx context.Context, triple Triple) error
	// Related returns triples whose subject or object equals entity.
	Related(ctx context.Context, entity string) ([]Triple, error)
}
