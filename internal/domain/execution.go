package domain

// TokenUsage is the token accounting for one model call. Zero fields mean the
// provider did not report a value.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add returns the field-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + o.Input,
		Output: u.Output + o.Output,
		Total:  u.Total + o.Total,
	}
}

// ExecutedTurn is one customer message and the Responder's reply.
type ExecutedTurn struct {
	CustomerMessage   string     `json:"customer_message"`
	AssistantResponse string     `json:"assistant_response"`
	Usage             TokenUsage `json:"usage"`
	FinishReason      string     `json:"finish_reason,omitempty"`
	ContextLines      []int      `json:"context_lines"`
	NoRelevantContext bool       `json:"no_relevant_context"`
}

// ExecutedCase is a scenario driven to completion or cut short by the budget.
type ExecutedCase struct {
	ScenarioID         string          `json:"scenario_id"`
	Title              string          `json:"title"`
	Goal               string          `json:"goal"`
	LeadTemperature    LeadTemperature `json:"lead_temperature"`
	InformationSharing InfoStance      `json:"information_sharing"`
	PlannedTurns       int             `json:"planned_turns"`
	ExecutedTurns      []ExecutedTurn  `json:"executed_turns"`
	StoppedEarly       bool            `json:"stopped_early"`
}

// Usage sums the usage of every executed turn.
func (c ExecutedCase) Usage() TokenUsage {
	var total TokenUsage
	for _, turn := range c.ExecutedTurns {
		total = total.Add(turn.Usage)
	}
	return total
}

// CountTurns returns the number of executed turns across cases.
func CountTurns(cases []ExecutedCase) int {
	n := 0
	for _, c := range cases {
		n += len(c.ExecutedTurns)
	}
	return n
}

// BudgetSnapshot is a point-in-time copy of a run's token ledger.
type BudgetSnapshot struct {
	Budget         int `json:"budget"`
	Consumed       int `json:"consumed"`
	ConsumedInput  int `json:"consumed_input"`
	ConsumedOutput int `json:"consumed_output"`
}

// Remaining returns max(0, Budget-Consumed).
func (s BudgetSnapshot) Remaining() int {
	if s.Consumed >= s.Budget {
		return 0
	}
	return s.Budget - s.Consumed
}

// Exhausted reports whether the budget is spent.
func (s BudgetSnapshot) Exhausted() bool { return s.Consumed >= s.Budget }
