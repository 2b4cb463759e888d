// Package budget folds per-message token usage into a running total and
// fires at-most-once threshold events per spec §4.4. Model pricing is a
// three-entry family table, resolved from config once, when the engine
// first applies .sprint.yml, and kept for the life of the process.
package budget

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"teamclaude/internal/sprint/model"
)

// Prices is input/output per-million-token pricing in USD for one model family.
type Prices struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// familyPrices is the three-entry pricing table the spec names explicitly.
// Resolution is family-substring match against the configured model name,
// defaulting to sonnet when the model string is absent or unrecognized —
// see Open Question 1 in DESIGN.md for why substring match (vs. exact
// match) was chosen.
var familyPrices = map[string]Prices{
	"haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"opus":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
}

// ResolvePrices maps a configured model name to its pricing family,
// defaulting to sonnet.
func ResolvePrices(modelName string) Prices {
	lower := strings.ToLower(modelName)
	for _, family := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lower, family) {
			return familyPrices[family]
		}
	}
	return familyPrices["sonnet"]
}

var (
	fallbackEncoding     *tiktoken.Tiktoken
	fallbackEncodingOnce sync.Once
)

// EstimateTokens counts text with the cl100k_base encoding for inbox
// messages that carry content but no usage field — agents that don't
// report usage still consume budget, they just don't self-report it.
// Falls back to a 4-chars-per-token rule of thumb if the encoding can't
// be loaded (matches the hector token utility's own fallback).
func EstimateTokens(text string) int64 {
	fallbackEncodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			fallbackEncoding = enc
		}
	})
	if fallbackEncoding == nil || text == "" {
		return int64(len(text) / 4)
	}
	return int64(len(fallbackEncoding.Encode(text, nil, nil)))
}

// approachingThreshold is the fraction of a configured limit that triggers
// the "approaching" event.
const approachingThreshold = 0.8

// Event names a budget-tracker broadcast/webhook firing.
type Event int

const (
	NoEvent Event = iota
	Approaching
	Exceeded
)

// Tracker accumulates token usage against a SprintState and evaluates
// budget thresholds. It holds no state of its own beyond the resolved
// Prices: all mutable accounting lives on the SprintState it's given,
// matching the engine's single-owner-goroutine model.
type Tracker struct {
	prices Prices
}

// NewTracker constructs a Tracker using prices resolved for modelName.
func NewTracker(modelName string) *Tracker {
	return &Tracker{prices: ResolvePrices(modelName)}
}

// Accumulate folds input/output tokens attributed to recipient into state,
// then evaluates budget thresholds. It returns the event fired, if any;
// callers are expected to broadcast token_usage unconditionally and the
// returned event additionally on a non-NoEvent result.
func (t *Tracker) Accumulate(state *model.SprintState, recipient string, input, output int64) Event {
	// Single-fire discipline: once exceeded, no further budget work runs,
	// not even accumulation evaluation, until sprint reset (spec §4.4).
	if state.TokenBudgetExceeded {
		state.TokenUsage.Total += input + output
		if state.TokenUsage.ByAgent == nil {
			state.TokenUsage.ByAgent = make(map[string]int64)
		}
		state.TokenUsage.ByAgent[recipient] += input + output
		state.TokenUsage.EstimatedCostUS += t.cost(input, output)
		return NoEvent
	}

	state.TokenUsage.Total += input + output
	if state.TokenUsage.ByAgent == nil {
		state.TokenUsage.ByAgent = make(map[string]int64)
	}
	state.TokenUsage.ByAgent[recipient] += input + output
	state.TokenUsage.EstimatedCostUS += t.cost(input, output)

	return t.evaluate(state)
}

func (t *Tracker) cost(input, output int64) float64 {
	return (float64(input)*t.prices.InputPerMillion + float64(output)*t.prices.OutputPerMillion) / 1_000_000
}

func (t *Tracker) evaluate(state *model.SprintState) Event {
	cfg := state.TokenBudgetConfig
	if cfg == nil || !cfg.HasLimit() {
		return NoEvent
	}

	exceeded := (cfg.TokenLimit > 0 && state.TokenUsage.Total >= cfg.TokenLimit) ||
		(cfg.DollarLimit > 0 && state.TokenUsage.EstimatedCostUS >= cfg.DollarLimit)
	if exceeded {
		state.TokenBudgetExceeded = true
		state.TokenBudgetApproaching = true
		state.Paused = true
		return Exceeded
	}

	if state.TokenBudgetApproaching {
		return NoEvent // already fired, never re-fires
	}

	approaching := (cfg.TokenLimit > 0 && float64(state.TokenUsage.Total) >= approachingThreshold*float64(cfg.TokenLimit)) ||
		(cfg.DollarLimit > 0 && state.TokenUsage.EstimatedCostUS >= approachingThreshold*cfg.DollarLimit)
	if approaching {
		state.TokenBudgetApproaching = true
		return Approaching
	}
	return NoEvent
}
