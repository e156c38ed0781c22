package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

const portfolioColumns = `
    id,
    participant_id,
    cash_balance,
    equity,
    margin_used,
    margin_available,
    realized_pnl,
    unrealized_pnl,
    total_pnl,
    current_leverage,
    margin_level,
    updated_at`

type portfolioRow struct {
	ID              string              `db:"id"`
	ParticipantID   string              `db:"participant_id"`
	CashBalance     decimal.Decimal     `db:"cash_balance"`
	Equity          decimal.Decimal     `db:"equity"`
	MarginUsed      decimal.Decimal     `db:"margin_used"`
	MarginAvailable decimal.Decimal     `db:"margin_available"`
	RealizedPnL     decimal.Decimal     `db:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal     `db:"unrealized_pnl"`
	TotalPnL        decimal.Decimal     `db:"total_pnl"`
	CurrentLeverage decimal.Decimal     `db:"current_leverage"`
	MarginLevel     decimal.NullDecimal `db:"margin_level"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

func (r *portfolioRow) toDomain() *domain.Portfolio {
	portfolio := &domain.Portfolio{
		ID:              uuid.MustParse(r.ID),
		ParticipantID:   uuid.MustParse(r.ParticipantID),
		CashBalance:     r.CashBalance,
		Equity:          r.Equity,
		MarginUsed:      r.MarginUsed,
		MarginAvailable: r.MarginAvailable,
		RealizedPnL:     r.RealizedPnL,
		UnrealizedPnL:   r.UnrealizedPnL,
		TotalPnL:        r.TotalPnL,
		CurrentLeverage: r.CurrentLeverage,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.MarginLevel.Valid {
		level := r.MarginLevel.Decimal
		portfolio.MarginLevel = &level
	}
	return portfolio
}

// PortfolioByParticipant loads a participant's account summary.
func (q *queries) PortfolioByParticipant(ctx context.Context, participantID uuid.UUID) (*domain.Portfolio, error) {
	var row portfolioRow
	query := `SELECT` + portfolioColumns + ` FROM portfolios WHERE participant_id = $1`
	if err := q.session.QueryRowCtx(ctx, &row, query, participantID); err != nil {
		return nil, wrapNotFound(err, "store: portfolio by participant")
	}
	return row.toDomain(), nil
}

// InsertPortfolio persists a freshly created portfolio.
func (q *queries) InsertPortfolio(ctx context.Context, p *domain.Portfolio) error {
	query := `
INSERT INTO portfolios (
    id, participant_id, cash_balance, equity, margin_used, margin_available,
    realized_pnl, unrealized_pnl, total_pnl, current_leverage, margin_level, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.session.ExecCtx(ctx, query,
		p.ID, p.ParticipantID, p.CashBalance.Round(2), p.Equity.Round(2),
		p.MarginUsed.Round(2), p.MarginAvailable.Round(2),
		p.RealizedPnL.Round(2), p.UnrealizedPnL.Round(2), p.TotalPnL.Round(2),
		p.CurrentLeverage.Round(4), marginLevelValue(p.MarginLevel), p.UpdatedAt)
	if err != nil {
		return wrapNotFound(err, "store: insert portfolio")
	}
	return nil
}

// SavePortfolio persists recomputed aggregates.
func (q *queries) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	query := `
UPDATE portfolios SET
    cash_balance = $2,
    equity = $3,
    margin_used = $4,
    margin_available = $5,
    realized_pnl = $6,
    unrealized_pnl = $7,
    total_pnl = $8,
    current_leverage = $9,
    margin_level = $10,
    updated_at = $11
WHERE id = $1`
	_, err := q.session.ExecCtx(ctx, query,
		p.ID, p.CashBalance.Round(2), p.Equity.Round(2),
		p.MarginUsed.Round(2), p.MarginAvailable.Round(2),
		p.RealizedPnL.Round(2), p.UnrealizedPnL.Round(2), p.TotalPnL.Round(2),
		p.CurrentLeverage.Round(4), marginLevelValue(p.MarginLevel), p.UpdatedAt)
	if err != nil {
		return wrapNotFound(err, "store: save portfolio")
	}
	return nil
}

func marginLevelValue(level *decimal.Decimal) decimal.NullDecimal {
	if level == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: level.Round(2), Valid: true}
}
