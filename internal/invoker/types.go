// Package invoker runs one agent round: snapshot the world, call the agent,
// parse its reply, dispatch the orders and record everything on an
// invocation row.
package invoker

import (
	"github.com/nykznykz/gauntlet/internal/domain"
)

// Decision values.
const (
	DecisionTrade = "trade"
	DecisionHold  = "hold"
)

// maxReasoningChars bounds the reasoning field of a parsed decision.
const maxReasoningChars = 500

// OrderDecision is one order inside an agent reply, in the wire grammar.
type OrderDecision struct {
	Action     string           `json:"action"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side,omitempty"`
	Quantity   *float64         `json:"quantity,omitempty"`
	Leverage   float64          `json:"leverage,omitempty"`
	PositionID string           `json:"position_id,omitempty"`
	ExitPlan   *domain.ExitPlan `json:"exit_plan,omitempty"`
}

// Decision is a parsed agent reply.
type Decision struct {
	Decision   string          `json:"decision"`
	Reasoning  string          `json:"reasoning"`
	Confidence *float64        `json:"confidence,omitempty"`
	Orders     []OrderDecision `json:"orders"`
}

// ExecutionResult is the per-order outcome recorded on the invocation.
type ExecutionResult struct {
	Symbol           string   `json:"symbol"`
	Action           string   `json:"action"`
	ValidationPassed bool     `json:"validation_passed"`
	RejectionReason  string   `json:"rejection_reason,omitempty"`
	Status           string   `json:"status"`
	ExecutedPrice    *float64 `json:"executed_price,omitempty"`
	Error            string   `json:"error,omitempty"`
}
