package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/pkg/downsample"
)

type historyRow struct {
	ID            string          `db:"id"`
	ParticipantID string          `db:"participant_id"`
	Equity        decimal.Decimal `db:"equity"`
	CashBalance   decimal.Decimal `db:"cash_balance"`
	MarginUsed    decimal.Decimal `db:"margin_used"`
	RealizedPnL   decimal.Decimal `db:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `db:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `db:"total_pnl"`
	RecordedAt    time.Time       `db:"recorded_at"`
}

// AppendHistory records one portfolio snapshot.
func (q *queries) AppendHistory(ctx context.Context, point *domain.HistoryPoint) error {
	query := `
INSERT INTO portfolio_history (
    id, participant_id, equity, cash_balance, margin_used,
    realized_pnl, unrealized_pnl, total_pnl, recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := q.session.ExecCtx(ctx, query,
		point.ID, point.ParticipantID, point.Equity.Round(2), point.CashBalance.Round(2),
		point.MarginUsed.Round(2), point.RealizedPnL.Round(2), point.UnrealizedPnL.Round(2),
		point.TotalPnL.Round(2), point.RecordedAt)
	if err != nil {
		return wrapNotFound(err, "store: append history")
	}
	return nil
}

// History returns a participant's portfolio history ascending, adaptively
// downsampled to targetPoints. The second return is the bucket interval in
// minutes (0 when the series was returned raw).
func (q *queries) History(ctx context.Context, participantID uuid.UUID, targetPoints int) ([]domain.HistoryPoint, int, error) {
	var rows []historyRow
	query := `
SELECT id, participant_id, equity, cash_balance, margin_used,
       realized_pnl, unrealized_pnl, total_pnl, recorded_at
FROM portfolio_history
WHERE participant_id = $1
ORDER BY recorded_at`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, participantID); err != nil {
		return nil, 0, wrapNotFound(err, "store: history")
	}

	points := make([]domain.HistoryPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, domain.HistoryPoint{
			ID:            uuid.MustParse(row.ID),
			ParticipantID: uuid.MustParse(row.ParticipantID),
			Equity:        row.Equity,
			CashBalance:   row.CashBalance,
			MarginUsed:    row.MarginUsed,
			RealizedPnL:   row.RealizedPnL,
			UnrealizedPnL: row.UnrealizedPnL,
			TotalPnL:      row.TotalPnL,
			RecordedAt:    row.RecordedAt,
		})
	}

	sampled, interval := downsample.Adaptive(points,
		func(p domain.HistoryPoint) time.Time { return p.RecordedAt }, targetPoints)
	return sampled, interval, nil
}
