package budget

import (
	"testing"

	"teamclaude/internal/sprint/model"
)

func TestResolvePricesSubstringMatch(t *testing.T) {
	cases := map[string]Prices{
		"claude-3-5-haiku-20241022":   familyPrices["haiku"],
		"claude-sonnet-4-5-20250929":  familyPrices["sonnet"],
		"claude-opus-4-1-20250805":    familyPrices["opus"],
		"":                            familyPrices["sonnet"],
		"some-unrecognized-model-001": familyPrices["sonnet"],
	}
	for name, want := range cases {
		if got := ResolvePrices(name); got != want {
			t.Errorf("ResolvePrices(%q) = %+v, want %+v", name, got, want)
		}
	}
}

func TestAccumulateSingleFireExceeded(t *testing.T) {
	tr := NewTracker("sonnet")
	s := model.New()
	s.TokenBudgetConfig = &model.BudgetConfig{TokenLimit: 1000}

	if ev := tr.Accumulate(s, "engineer", 900, 0); ev != Approaching {
		t.Fatalf("expected Approaching at 90%% of limit, got %v", ev)
	}
	if ev := tr.Accumulate(s, "engineer", 50, 0); ev != Approaching && ev != NoEvent {
		// Still below the limit; approaching must not refire.
		if ev == Approaching {
			t.Fatalf("Approaching should not refire once already set")
		}
	}
	if ev := tr.Accumulate(s, "engineer", 100, 0); ev != Exceeded {
		t.Fatalf("expected Exceeded once total crosses limit, got %v", ev)
	}
	if !s.Paused {
		t.Fatal("expected Paused=true once budget exceeded")
	}

	// Once exceeded, further accumulation must not re-fire any event.
	if ev := tr.Accumulate(s, "engineer", 500, 0); ev != NoEvent {
		t.Fatalf("expected NoEvent after budget already exceeded, got %v", ev)
	}
	totalBefore := s.TokenUsage.Total
	tr.Accumulate(s, "engineer", 10, 0)
	if s.TokenUsage.Total != totalBefore+10 {
		t.Fatalf("accumulation should still track usage after exceeded, got %d want %d", s.TokenUsage.Total, totalBefore+10)
	}
}

func TestAccumulateNoLimitConfigured(t *testing.T) {
	tr := NewTracker("haiku")
	s := model.New()
	if ev := tr.Accumulate(s, "pm", 10_000_000, 10_000_000); ev != NoEvent {
		t.Fatalf("expected NoEvent with no budget configured, got %v", ev)
	}
}

func TestEstimateTokensNonEmpty(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
	got := EstimateTokens("the quick brown fox jumps over the lazy dog")
	if got <= 0 {
		t.Fatalf("expected a positive token estimate, got %d", got)
	}
}
