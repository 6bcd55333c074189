package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	r := NewRegistry(map[string]int{"ocr": 3}, 3)

	assert.False(t, r.RecordFailure("ocr", "docintel"))
	assert.False(t, r.RecordFailure("ocr", "docintel"))
	assert.False(t, r.IsDegraded("ocr", "docintel"))

	assert.True(t, r.RecordFailure("ocr", "docintel"))
	assert.True(t, r.IsDegraded("ocr", "docintel"))
}

func TestSuccessClosesBreakerAndResetsStreak(t *testing.T) {
	r := NewRegistry(nil, 3)

	r.RecordFailure("ocr", "docintel")
	r.RecordFailure("ocr", "docintel")
	r.RecordSuccess("ocr", "docintel")

	// streak restarted: two more failures must not open
	r.RecordFailure("ocr", "docintel")
	assert.False(t, r.RecordFailure("ocr", "docintel"))
	assert.False(t, r.IsDegraded("ocr", "docintel"))

	// cumulative keeps counting across streaks
	snap := r.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, 4, snap[0].Cumulative)
	assert.Equal(t, 2, snap[0].Consecutive)
}

func TestOpeningIsIdempotent(t *testing.T) {
	r := NewRegistry(nil, 2)

	r.RecordFailure("llm", "openai")
	r.RecordFailure("llm", "openai")
	r.RecordFailure("llm", "openai")
	r.RecordFailure("llm", "openai")

	snap := r.Snapshot()
	assert.Len(t, snap, 1)
	assert.True(t, snap[0].Degraded)
	// one open transition, one time-to-degrade sample
	assert.Len(t, snap[0].TimeToDegrade, 1)
}

func TestBreakersAreIndependentPerKindAndName(t *testing.T) {
	r := NewRegistry(map[string]int{"ocr": 2, "llm": 3}, 3)

	r.RecordFailure("ocr", "docintel")
	r.RecordFailure("ocr", "docintel")
	r.RecordFailure("llm", "openai")
	r.RecordFailure("llm", "openai")

	assert.True(t, r.IsDegraded("ocr", "docintel"))
	assert.False(t, r.IsDegraded("llm", "openai"))
	assert.False(t, r.IsDegraded("ocr", "other"))
}

func TestUnknownProviderIsHealthy(t *testing.T) {
	r := NewRegistry(nil, 3)
	assert.False(t, r.IsDegraded("ocr", "never-seen"))
}
