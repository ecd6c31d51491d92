package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"Search the web for Go release notes": CategoryWebSearch,
		"Record the fact in the knowledge graph": CategoryKnowledge,
		"Write a script that sums numbers":      CategoryCode,
		"Evaluate the quality of the essay":     CategoryAnalysis,
		"Make tea":                              CategoryGeneral,
	}
	for desc, want := range cases {
		assert.Equal(t, want, Classify(desc).TaskType, desc)
	}
	assert.Equal(t, []string{ToolWebSearch}, Classify("crawl a site").RequiredTools)
	assert.Equal(t, "low", Classify("short").Complexity)
}

func TestScoreIsStableAndBounded(t *testing.T) {
	a := Score("some text here", "clarity")
	assert.Equal(t, a, Score("some text here", "clarity"))
	assert.GreaterOrEqual(t, a, 1)
	assert.LessOrEqual(t, a, 10)
	assert.Equal(t, 10, Clamp(42, 1, 10))
	assert.Equal(t, 1, Clamp(-3, 1, 10))
}

func TestExtractTriples(t *testing.T) {
	got := ExtractTriples("Go is a language. Gophers have fun! nothing here")
	assert.Equal(t, []Triple{
		{Subject: "Go", Predicate: "is", Object: "a language"},
		{Subject: "Gophers", Predicate: "have", Object: "fun"},
	}, got)
}

func TestPlanDependenciesReferenceEarlierSteps(t *testing.T) {
	steps := Plan("build a CLI", 0)
	for i, s := range steps {
		for _, d := range s.Dependencies {
			assert.Less(t, d, i)
		}
	}
	assert.Len(t, Plan("x", 2), 2)
}

func TestCodeHelpers(t *testing.T) {
	assert.Equal(t, "print(1)", ExtractCode("here:\n```python\nprint(1)\n```\n"))
	assert.Equal(t, "x = 1", ExtractCode("  x = 1 "))
	assert.Equal(t, "print(1)", StripFailingLines("print(1)\nraise ValueError('x')"))
	assert.Equal(t, `{"a":1}`, ExtractJSON(`noise {"a":1} tail`))
	assert.Equal(t, "", ExtractJSON("none"))
}
