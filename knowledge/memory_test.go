package knowledge

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/agentcrew/core"
)

// Interface compliance (compile-time assertions)
var _ core.KnowledgeStore = (*InMemoryStore)(nil)

func TestInMemoryStore_PutGetFact(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()

	if _, ok, err := svc.GetFact(ctx, "go"); err != nil || ok {
		t.Fatalf("expected no fact, got ok=%v err=%v", ok, err)
	}
	if err := svc.PutFact(ctx, core.Fact{Subject: "go", Fact: "Go has goroutines", Confidence: 0.9}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	f, ok, err := svc.GetFact(ctx, "go")
	if err != nil || !ok {
		t.Fatalf("expected fact, got ok=%v err=%v", ok, err)
	}
	if f.Fact != "Go has goroutines" || f.UpdatedAt.IsZero() {
		t.Fatalf("unexpected fact: %#v", f)
	}
	// last write wins
	_ = svc.PutFact(ctx, core.Fact{Subject: "go", Fact: "Go has channels"})
	f, _, _ = svc.GetFact(ctx, "go")
	if f.Fact != "Go has channels" {
		t.Fatalf("expected overwrite, got %q", f.Fact)
	}
	if err := svc.PutFact(ctx, core.Fact{Subject: " "}); err == nil {
		t.Fatalf("expected validation error for empty subject")
	}
}

func TestInMemoryStore_SearchFacts(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	for i := 0; i < 5; i++ {
		_ = svc.PutFact(ctx, core.Fact{Subject: fmt.Sprintf("topic%d", i), Fact: fmt.Sprintf("Content %c", 'A'+i)})
	}

	all, _ := svc.SearchFacts(ctx, "", 0)
	if len(all) != 5 || all[0].Subject != "topic0" {
		t.Fatalf("expected 5 sorted results, got %#v", all)
	}
	hit, _ := svc.SearchFacts(ctx, "content c", 10)
	if len(hit) != 1 || hit[0].Subject != "topic2" {
		t.Fatalf("expected case-insensitive single match, got %#v", hit)
	}
	limited, _ := svc.SearchFacts(ctx, "topic", 3)
	if len(limited) != 3 {
		t.Fatalf("expected 3 limited results, got %d", len(limited))
	}
}

func TestInMemoryStore_Triples(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	_ = svc.AddTriple(ctx, core.Triple{Subject: "Go", Predicate: "has", Object: "goroutines"})
	_ = svc.AddTriple(ctx, core.Triple{Subject: "Go", Predicate: "has", Object: "goroutines"})
	_ = svc.AddTriple(ctx, core.Triple{Subject: "Rust", Predicate: "is", Object: "fast"})
	_ = svc.AddTriple(ctx, core.Triple{Subject: "scheduler", Predicate: "runs", Object: "Go"})

	rel, _ := svc.Related(ctx, "Go")
	if len(rel) != 2 {
		t.Fatalf("expected 2 related triples, got %#v", rel)
	}
	if rel[0].Object != "goroutines" || rel[1].Subject != "scheduler" {
		t.Fatalf("unexpected order: %#v", rel)
	}
	if err := svc.AddTriple(ctx, core.Triple{Subject: "x"}); err == nil {
		t.Fatalf("expected validation error for incomplete triple")
	}
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	wg := sync.WaitGroup{}
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject := string(rune('A' + (i % 5)))
			if err := svc.PutFact(ctx, core.Fact{Subject: subject, Fact: fmt.Sprint(i)}); err != nil {
				t.Errorf("put error: %v", err)
			}
			if _, err := svc.SearchFacts(ctx, "", 5); err != nil {
				t.Errorf("search error: %v", err)
			}
			if err := svc.AddTriple(ctx, core.Triple{Subject: subject, Predicate: "is", Object: fmt.Sprint(i)}); err != nil {
				t.Errorf("triple error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	all, _ := svc.SearchFacts(ctx, "", 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 subjects after concurrent writes, got %d", len(all))
	}
}
