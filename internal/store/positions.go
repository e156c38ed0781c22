package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/calc"
)

const positionColumns = `
    id,
    portfolio_id,
    participant_id,
    symbol,
    asset_class,
    side,
    quantity,
    entry_price,
    current_price,
    leverage,
    margin_required,
    notional_value,
    unrealized_pnl,
    unrealized_pnl_pct,
    exit_plan,
    opened_at`

type positionRow struct {
	ID               string          `db:"id"`
	PortfolioID      string          `db:"portfolio_id"`
	ParticipantID    string          `db:"participant_id"`
	Symbol           string          `db:"symbol"`
	AssetClass       string          `db:"asset_class"`
	Side             string          `db:"side"`
	Quantity         decimal.Decimal `db:"quantity"`
	EntryPrice       decimal.Decimal `db:"entry_price"`
	CurrentPrice     decimal.Decimal `db:"current_price"`
	Leverage         decimal.Decimal `db:"leverage"`
	MarginRequired   decimal.Decimal `db:"margin_required"`
	NotionalValue    decimal.Decimal `db:"notional_value"`
	UnrealizedPnL    decimal.Decimal `db:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `db:"unrealized_pnl_pct"`
	ExitPlan         sql.NullString  `db:"exit_plan"`
	OpenedAt         time.Time       `db:"opened_at"`
}

func (r *positionRow) toDomain() (*domain.Position, error) {
	position := &domain.Position{
		ID:               uuid.MustParse(r.ID),
		PortfolioID:      uuid.MustParse(r.PortfolioID),
		ParticipantID:    uuid.MustParse(r.ParticipantID),
		Symbol:           r.Symbol,
		AssetClass:       r.AssetClass,
		Side:             calc.Side(r.Side),
		Quantity:         r.Quantity,
		EntryPrice:       r.EntryPrice,
		CurrentPrice:     r.CurrentPrice,
		Leverage:         r.Leverage,
		MarginRequired:   r.MarginRequired,
		NotionalValue:    r.NotionalValue,
		UnrealizedPnL:    r.UnrealizedPnL,
		UnrealizedPnLPct: r.UnrealizedPnLPct,
		OpenedAt:         r.OpenedAt,
	}
	if r.ExitPlan.Valid && r.ExitPlan.String != "" {
		var plan domain.ExitPlan
		if err := json.Unmarshal([]byte(r.ExitPlan.String), &plan); err != nil {
			return nil, fmt.Errorf("store: decode exit plan for position %s: %w", r.ID, err)
		}
		position.ExitPlan = &plan
	}
	return position, nil
}

// PositionByID loads one open position.
func (q *queries) PositionByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	var row positionRow
	query := `SELECT` + positionColumns + ` FROM positions WHERE id = $1`
	if err := q.session.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, wrapNotFound(err, "store: position by id")
	}
	return row.toDomain()
}

// PositionBySymbol resolves a participant's position on a symbol; the legacy
// close path without a position id uses it.
func (q *queries) PositionBySymbol(ctx context.Context, participantID uuid.UUID, symbol string) (*domain.Position, error) {
	var row positionRow
	query := `SELECT` + positionColumns + `
FROM positions
WHERE participant_id = $1 AND symbol = $2
ORDER BY opened_at
LIMIT 1`
	if err := q.session.QueryRowCtx(ctx, &row, query, participantID, symbol); err != nil {
		return nil, wrapNotFound(err, "store: position by symbol")
	}
	return row.toDomain()
}

// PositionsByPortfolio lists a portfolio's open positions.
func (q *queries) PositionsByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]domain.Position, error) {
	var rows []positionRow
	query := `SELECT` + positionColumns + ` FROM positions WHERE portfolio_id = $1 ORDER BY opened_at`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, portfolioID); err != nil {
		return nil, wrapNotFound(err, "store: positions by portfolio")
	}
	return positionRowsToDomain(rows)
}

// PositionsByParticipant lists a participant's open positions.
func (q *queries) PositionsByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.Position, error) {
	var rows []positionRow
	query := `SELECT` + positionColumns + ` FROM positions WHERE participant_id = $1 ORDER BY opened_at`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, participantID); err != nil {
		return nil, wrapNotFound(err, "store: positions by participant")
	}
	return positionRowsToDomain(rows)
}

// AllOpenPositions lists every open position across the system; the
// mark-to-market sweep batches them by symbol.
func (q *queries) AllOpenPositions(ctx context.Context) ([]domain.Position, error) {
	var rows []positionRow
	query := `SELECT` + positionColumns + ` FROM positions ORDER BY symbol, opened_at`
	if err := q.session.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, wrapNotFound(err, "store: all open positions")
	}
	return positionRowsToDomain(rows)
}

// InsertPosition persists a newly opened position.
func (q *queries) InsertPosition(ctx context.Context, p *domain.Position) error {
	plan, err := encodeExitPlan(p.ExitPlan)
	if err != nil {
		return err
	}
	query := `
INSERT INTO positions (
    id, portfolio_id, participant_id, symbol, asset_class, side,
    quantity, entry_price, current_price, leverage, margin_required,
    notional_value, unrealized_pnl, unrealized_pnl_pct, exit_plan, opened_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = q.session.ExecCtx(ctx, query,
		p.ID, p.PortfolioID, p.ParticipantID, p.Symbol, p.AssetClass, string(p.Side),
		p.Quantity.Round(8), p.EntryPrice.Round(8), p.CurrentPrice.Round(8),
		p.Leverage, p.MarginRequired.Round(2), p.NotionalValue.Round(2),
		p.UnrealizedPnL.Round(2), p.UnrealizedPnLPct.Round(4), plan, p.OpenedAt)
	if err != nil {
		return wrapNotFound(err, "store: insert position")
	}
	return nil
}

// SavePosition persists a revaluation.
func (q *queries) SavePosition(ctx context.Context, p *domain.Position) error {
	query := `
UPDATE positions SET
    current_price = $2,
    notional_value = $3,
    unrealized_pnl = $4,
    unrealized_pnl_pct = $5
WHERE id = $1`
	_, err := q.session.ExecCtx(ctx, query,
		p.ID, p.CurrentPrice.Round(8), p.NotionalValue.Round(2),
		p.UnrealizedPnL.Round(2), p.UnrealizedPnLPct.Round(4))
	if err != nil {
		return wrapNotFound(err, "store: save position")
	}
	return nil
}

// DeletePosition removes a closed position. Trades referencing it fall back
// to a null position id via the schema's SET NULL.
func (q *queries) DeletePosition(ctx context.Context, id uuid.UUID) error {
	if _, err := q.session.ExecCtx(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		return wrapNotFound(err, "store: delete position")
	}
	return nil
}

func positionRowsToDomain(rows []positionRow) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(rows))
	for i := range rows {
		position, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *position)
	}
	return out, nil
}

func encodeExitPlan(plan *domain.ExitPlan) (any, error) {
	if plan == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("store: encode exit plan: %w", err)
	}
	return encoded, nil
}
