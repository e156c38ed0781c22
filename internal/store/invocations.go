package store

import (
	"context"

	"github.com/nykznykz/gauntlet/internal/domain"
)

// InsertInvocation persists the pending invocation row before the agent call
// goes out, so a crashed call still leaves a trace.
func (q *queries) InsertInvocation(ctx context.Context, inv *domain.Invocation) error {
	query := `
INSERT INTO invocations (
    id, participant_id, competition_id, prompt_text, prompt_tokens,
    response_tokens, market_data_snapshot, portfolio_snapshot, response_text,
    parsed_decision, execution_results, invocation_time, response_time_ms,
    status, error_message, estimated_cost
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := q.session.ExecCtx(ctx, query,
		inv.ID, inv.ParticipantID, inv.CompetitionID, inv.PromptText, inv.PromptTokens,
		inv.ResponseTokens, nullableBlob(inv.MarketDataSnapshot), nullableBlob(inv.PortfolioSnapshot),
		inv.ResponseText, nullableBlob(inv.ParsedDecision), nullableBlob(inv.ExecutionResults),
		inv.InvocationTime, inv.ResponseTimeMs, inv.Status, inv.ErrorMessage,
		inv.EstimatedCost.Round(6))
	if err != nil {
		return wrapNotFound(err, "store: insert invocation")
	}
	return nil
}

// SaveInvocation updates the row in place with the final outcome.
func (q *queries) SaveInvocation(ctx context.Context, inv *domain.Invocation) error {
	query := `
UPDATE invocations SET
    prompt_tokens = $2,
    response_tokens = $3,
    response_text = $4,
    parsed_decision = $5,
    execution_results = $6,
    response_time_ms = $7,
    status = $8,
    error_message = $9,
    estimated_cost = $10
WHERE id = $1`
	_, err := q.session.ExecCtx(ctx, query,
		inv.ID, inv.PromptTokens, inv.ResponseTokens, inv.ResponseText,
		nullableBlob(inv.ParsedDecision), nullableBlob(inv.ExecutionResults),
		inv.ResponseTimeMs, inv.Status, inv.ErrorMessage, inv.EstimatedCost.Round(6))
	if err != nil {
		return wrapNotFound(err, "store: save invocation")
	}
	return nil
}

func nullableBlob(blob []byte) any {
	if len(blob) == 0 {
		return nil
	}
	return blob
}
