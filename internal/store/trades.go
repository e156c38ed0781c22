package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

const tradeColumns = `
    id,
    order_id,
    participant_id,
    position_id,
    symbol,
    side,
    quantity,
    price,
    action,
    leverage,
    notional_value,
    margin_impact,
    realized_pnl,
    realized_pnl_pct,
    executed_at`

type tradeRow struct {
	ID             string              `db:"id"`
	OrderID        string              `db:"order_id"`
	ParticipantID  string              `db:"participant_id"`
	PositionID     *string             `db:"position_id"`
	Symbol         string              `db:"symbol"`
	Side           string              `db:"side"`
	Quantity       decimal.Decimal     `db:"quantity"`
	Price          decimal.Decimal     `db:"price"`
	Action         string              `db:"action"`
	Leverage       decimal.Decimal     `db:"leverage"`
	NotionalValue  decimal.Decimal     `db:"notional_value"`
	MarginImpact   decimal.Decimal     `db:"margin_impact"`
	RealizedPnL    decimal.NullDecimal `db:"realized_pnl"`
	RealizedPnLPct decimal.NullDecimal `db:"realized_pnl_pct"`
	ExecutedAt     time.Time           `db:"executed_at"`
}

func (r *tradeRow) toDomain() *domain.Trade {
	trade := &domain.Trade{
		ID:            uuid.MustParse(r.ID),
		OrderID:       uuid.MustParse(r.OrderID),
		ParticipantID: uuid.MustParse(r.ParticipantID),
		Symbol:        r.Symbol,
		Side:          r.Side,
		Quantity:      r.Quantity,
		Price:         r.Price,
		Action:        r.Action,
		Leverage:      r.Leverage,
		NotionalValue: r.NotionalValue,
		MarginImpact:  r.MarginImpact,
		ExecutedAt:    r.ExecutedAt,
	}
	if r.PositionID != nil {
		id := uuid.MustParse(*r.PositionID)
		trade.PositionID = &id
	}
	if r.RealizedPnL.Valid {
		pnl := r.RealizedPnL.Decimal
		trade.RealizedPnL = &pnl
	}
	if r.RealizedPnLPct.Valid {
		pct := r.RealizedPnLPct.Decimal
		trade.RealizedPnLPct = &pct
	}
	return trade
}

// InsertTrade persists one accounting entry.
func (q *queries) InsertTrade(ctx context.Context, t *domain.Trade) error {
	var positionID any
	if t.PositionID != nil {
		positionID = *t.PositionID
	}
	var realizedPnL, realizedPnLPct any
	if t.RealizedPnL != nil {
		realizedPnL = t.RealizedPnL.Round(2)
	}
	if t.RealizedPnLPct != nil {
		realizedPnLPct = t.RealizedPnLPct.Round(4)
	}
	query := `
INSERT INTO trades (
    id, order_id, participant_id, position_id, symbol, side, quantity, price,
    action, leverage, notional_value, margin_impact, realized_pnl,
    realized_pnl_pct, executed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := q.session.ExecCtx(ctx, query,
		t.ID, t.OrderID, t.ParticipantID, positionID, t.Symbol, t.Side,
		t.Quantity.Round(8), t.Price.Round(8), t.Action, t.Leverage,
		t.NotionalValue.Round(2), t.MarginImpact.Round(2), realizedPnL,
		realizedPnLPct, t.ExecutedAt)
	if err != nil {
		return wrapNotFound(err, "store: insert trade")
	}
	return nil
}

// RecentTrades returns a participant's trades newest first.
func (q *queries) RecentTrades(ctx context.Context, participantID uuid.UUID, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []tradeRow
	query := `SELECT` + tradeColumns + `
FROM trades
WHERE participant_id = $1
ORDER BY executed_at DESC
LIMIT $2`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, participantID, limit); err != nil {
		return nil, wrapNotFound(err, "store: recent trades")
	}
	out := make([]domain.Trade, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}
