package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

const competitionColumns = `
    id,
    name,
    description,
    status,
    start_time,
    end_time,
    invocation_interval_minutes,
    initial_capital,
    max_leverage,
    maintenance_margin_pct,
    allowed_asset_classes,
    max_participants,
    market_hours_only,
    created_at,
    updated_at`

type competitionRow struct {
	ID                        string          `db:"id"`
	Name                      string          `db:"name"`
	Description               string          `db:"description"`
	Status                    string          `db:"status"`
	StartTime                 time.Time       `db:"start_time"`
	EndTime                   time.Time       `db:"end_time"`
	InvocationIntervalMinutes int             `db:"invocation_interval_minutes"`
	InitialCapital            decimal.Decimal `db:"initial_capital"`
	MaxLeverage               decimal.Decimal `db:"max_leverage"`
	MaintenanceMarginPct      decimal.Decimal `db:"maintenance_margin_pct"`
	AllowedAssetClasses       pq.StringArray  `db:"allowed_asset_classes"`
	MaxParticipants           int             `db:"max_participants"`
	MarketHoursOnly           bool            `db:"market_hours_only"`
	CreatedAt                 time.Time       `db:"created_at"`
	UpdatedAt                 time.Time       `db:"updated_at"`
}

func (r *competitionRow) toDomain() *domain.Competition {
	return &domain.Competition{
		ID:                        uuid.MustParse(r.ID),
		Name:                      r.Name,
		Description:               r.Description,
		Status:                    r.Status,
		StartTime:                 r.StartTime,
		EndTime:                   r.EndTime,
		InvocationIntervalMinutes: r.InvocationIntervalMinutes,
		InitialCapital:            r.InitialCapital,
		MaxLeverage:               r.MaxLeverage,
		MaintenanceMarginPct:      r.MaintenanceMarginPct,
		AllowedAssetClasses:       []string(r.AllowedAssetClasses),
		MaxParticipants:           r.MaxParticipants,
		MarketHoursOnly:           r.MarketHoursOnly,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}

// CompetitionByID loads one competition.
func (q *queries) CompetitionByID(ctx context.Context, id uuid.UUID) (*domain.Competition, error) {
	var row competitionRow
	query := `SELECT` + competitionColumns + ` FROM competitions WHERE id = $1`
	if err := q.session.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, wrapNotFound(err, "store: competition by id")
	}
	return row.toDomain(), nil
}

// RunningCompetitions returns active competitions whose end time is still in
// the future; the decision sweep iterates these.
func (q *queries) RunningCompetitions(ctx context.Context, now time.Time) ([]domain.Competition, error) {
	var rows []competitionRow
	query := `SELECT` + competitionColumns + `
FROM competitions
WHERE status = $1 AND end_time > $2
ORDER BY start_time`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, domain.CompetitionActive, now); err != nil {
		return nil, wrapNotFound(err, "store: running competitions")
	}
	out := make([]domain.Competition, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

// InsertCompetition persists a new competition.
func (q *queries) InsertCompetition(ctx context.Context, c *domain.Competition) error {
	query := `
INSERT INTO competitions (
    id, name, description, status, start_time, end_time,
    invocation_interval_minutes, initial_capital, max_leverage,
    maintenance_margin_pct, allowed_asset_classes, max_participants,
    market_hours_only, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := q.session.ExecCtx(ctx, query,
		c.ID, c.Name, c.Description, c.Status, c.StartTime, c.EndTime,
		c.InvocationIntervalMinutes, c.InitialCapital.Round(2), c.MaxLeverage,
		c.MaintenanceMarginPct, pq.Array(c.AllowedAssetClasses), c.MaxParticipants,
		c.MarketHoursOnly, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return wrapNotFound(err, "store: insert competition")
	}
	return nil
}

// SetCompetitionStatus transitions a competition's lifecycle state.
func (q *queries) SetCompetitionStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE competitions SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := q.session.ExecCtx(ctx, query, id, status); err != nil {
		return wrapNotFound(err, "store: set competition status")
	}
	return nil
}

// DeleteAllCompetitions hard-wipes every competition; cascades take the rest
// of the tree with them. Used by the admin reset flow.
func (q *queries) DeleteAllCompetitions(ctx context.Context) error {
	if _, err := q.session.ExecCtx(ctx, `DELETE FROM competitions`); err != nil {
		return wrapNotFound(err, "store: delete competitions")
	}
	return nil
}
