package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status     RunStatus
		terminal   bool
		executable bool
	}{
		{RunStatusQueued, false, true},
		{RunStatusRunning, false, true},
		{RunStatusCompleted, true, false},
		{RunStatusFailed, true, false},
		{RunStatusBudgetStopped, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.executable, tt.status.CanExecute())
		})
	}
}

func TestStyleMix_Percentages(t *testing.T) {
	tests := []struct {
		name                   string
		mix                    StyleMix
		clean, semiNoisy, mess int
	}{
		{"already percent", StyleMix{Clean: 60, SemiNoisy: 30, Messy: 10}, 60, 30, 10},
		{"ratios", StyleMix{Clean: 1, SemiNoisy: 1, Messy: 2}, 25, 25, 50},
		{"remainder goes to messy", StyleMix{Clean: 1, SemiNoisy: 1, Messy: 1}, 33, 33, 34},
		{"zero mix", StyleMix{}, 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, m := tt.mix.Percentages()
			assert.Equal(t, tt.clean, c)
			assert.Equal(t, tt.semiNoisy, s)
			assert.Equal(t, tt.mess, m)
		})
	}
}

func TestExecutedCase_Usage(t *testing.T) {
	c := ExecutedCase{ExecutedTurns: []ExecutedTurn{
		{Usage: TokenUsage{Input: 10, Output: 5, Total: 15}},
		{Usage: TokenUsage{Input: 20, Output: 7, Total: 27}},
	}}

	assert.Equal(t, TokenUsage{Input: 30, Output: 12, Total: 42}, c.Usage())
	assert.Equal(t, 3, CountTurns([]ExecutedCase{c, {ExecutedTurns: []ExecutedTurn{{}}}}))
}
