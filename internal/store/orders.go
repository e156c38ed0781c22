package store

import (
	"context"

	"github.com/nykznykz/gauntlet/internal/domain"
)

// SaveOrder upserts an order row: the invoker persists the intent before
// execution, and the trading engine overwrites it with the outcome.
func (q *queries) SaveOrder(ctx context.Context, o *domain.Order) error {
	query := `
INSERT INTO orders (
    id, participant_id, competition_id, invocation_id, symbol, asset_class,
    order_type, side, quantity, requested_price, executed_price, leverage,
    status, rejection_reason, created_at, executed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
    symbol = EXCLUDED.symbol,
    side = EXCLUDED.side,
    quantity = EXCLUDED.quantity,
    executed_price = EXCLUDED.executed_price,
    status = EXCLUDED.status,
    rejection_reason = EXCLUDED.rejection_reason,
    executed_at = EXCLUDED.executed_at`
	var invocationID any
	if o.InvocationID != zeroUUID {
		invocationID = o.InvocationID
	}
	var requestedPrice, executedPrice any
	if o.RequestedPrice != nil {
		requestedPrice = o.RequestedPrice.Round(8)
	}
	if o.ExecutedPrice != nil {
		executedPrice = o.ExecutedPrice.Round(8)
	}
	var executedAt any
	if o.ExecutedAt != nil {
		executedAt = *o.ExecutedAt
	}
	_, err := q.session.ExecCtx(ctx, query,
		o.ID, o.ParticipantID, o.CompetitionID, invocationID, o.Symbol, o.AssetClass,
		o.OrderType, o.Side, o.Quantity.Round(8), requestedPrice, executedPrice,
		o.Leverage, o.Status, o.RejectionReason, o.CreatedAt, executedAt)
	if err != nil {
		return wrapNotFound(err, "store: save order")
	}
	return nil
}
