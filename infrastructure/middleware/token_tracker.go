package middleware

import (
	"sync"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.TokenBudget = (*TokenTracker)(nil)

// TokenTracker is the token ledger of a single run. It is created fresh for
// every run and never shared between runs.
//
// The budget is checked by callers before a call starts, never during one,
// so consumed can pass the budget by the usage of the last call.
type TokenTracker struct {
	mu             sync.Mutex
	budget         int
	consumed       int
	consumedInput  int
	consumedOutput int
}

// NewTokenTracker creates a tracker for budget tokens. A non-positive budget
// starts exhausted.
func NewTokenTracker(budget int) *TokenTracker {
	return &TokenTracker{budget: max(budget, 0)}
}

// Consume charges one call. Negative reported values count as missing and
// are estimated from the text.
func (t *TokenTracker) Consume(reported ports.Usage, promptText, responseText string) domain.TokenUsage {
	u := llm.EstimateUsage(ports.Usage{
		PromptTokens:     max(reported.PromptTokens, 0),
		CompletionTokens: max(reported.CompletionTokens, 0),
		TotalTokens:      max(reported.TotalTokens, 0),
	}, promptText, responseText)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumed += u.TotalTokens
	t.consumedInput += u.PromptTokens
	t.consumedOutput += u.CompletionTokens

	return domain.TokenUsage{Input: u.PromptTokens, Output: u.CompletionTokens, Total: u.TotalTokens}
}

// Remaining returns max(0, budget-consumed).
func (t *TokenTracker) Remaining() int {
	return t.Snapshot().Remaining()
}

// IsExhausted reports whether consumed has reached the budget.
func (t *TokenTracker) IsExhausted() bool {
	return t.Snapshot().Exhausted()
}

// Snapshot returns a copy of the counters.
func (t *TokenTracker) Snapshot() domain.BudgetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.BudgetSnapshot{
		Budget:         t.budget,
		Consumed:       t.consumed,
		ConsumedInput:  t.consumedInput,
		ConsumedOutput: t.consumedOutput,
	}
}
