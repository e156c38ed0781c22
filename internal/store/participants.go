package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

const participantColumns = `
    id,
    competition_id,
    name,
    agent_provider,
    agent_model,
    agent_config,
    status,
    initial_capital,
    current_equity,
    peak_equity,
    total_trades,
    winning_trades,
    losing_trades,
    timeout_seconds,
    joined_at`

type participantRow struct {
	ID             string          `db:"id"`
	CompetitionID  string          `db:"competition_id"`
	Name           string          `db:"name"`
	AgentProvider  string          `db:"agent_provider"`
	AgentModel     string          `db:"agent_model"`
	AgentConfig    sql.NullString  `db:"agent_config"`
	Status         string          `db:"status"`
	InitialCapital decimal.Decimal `db:"initial_capital"`
	CurrentEquity  decimal.Decimal `db:"current_equity"`
	PeakEquity     decimal.Decimal `db:"peak_equity"`
	TotalTrades    int             `db:"total_trades"`
	WinningTrades  int             `db:"winning_trades"`
	LosingTrades   int             `db:"losing_trades"`
	TimeoutSeconds int             `db:"timeout_seconds"`
	JoinedAt       time.Time       `db:"joined_at"`
}

func (r *participantRow) toDomain() (*domain.Participant, error) {
	participant := &domain.Participant{
		ID:             uuid.MustParse(r.ID),
		CompetitionID:  uuid.MustParse(r.CompetitionID),
		Name:           r.Name,
		AgentProvider:  r.AgentProvider,
		AgentModel:     r.AgentModel,
		Status:         r.Status,
		InitialCapital: r.InitialCapital,
		CurrentEquity:  r.CurrentEquity,
		PeakEquity:     r.PeakEquity,
		TotalTrades:    r.TotalTrades,
		WinningTrades:  r.WinningTrades,
		LosingTrades:   r.LosingTrades,
		TimeoutSeconds: r.TimeoutSeconds,
		JoinedAt:       r.JoinedAt,
	}
	if r.AgentConfig.Valid && r.AgentConfig.String != "" {
		if err := json.Unmarshal([]byte(r.AgentConfig.String), &participant.AgentConfig); err != nil {
			return nil, fmt.Errorf("store: decode agent config for %s: %w", r.ID, err)
		}
	}
	return participant, nil
}

// ParticipantByID loads one participant.
func (q *queries) ParticipantByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error) {
	var row participantRow
	query := `SELECT` + participantColumns + ` FROM participants WHERE id = $1`
	if err := q.session.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, wrapNotFound(err, "store: participant by id")
	}
	return row.toDomain()
}

// ActiveParticipants returns the active participants of the given
// competitions. With no competition filter it returns every active
// participant.
func (q *queries) ActiveParticipants(ctx context.Context, competitionIDs []uuid.UUID) ([]domain.Participant, error) {
	query := `SELECT` + participantColumns + `
FROM participants
WHERE status = $1`
	args := []any{domain.ParticipantActive}
	if len(competitionIDs) > 0 {
		ids := make([]string, 0, len(competitionIDs))
		for _, id := range competitionIDs {
			ids = append(ids, id.String())
		}
		query += ` AND competition_id = ANY($2::uuid[])`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY joined_at`

	var rows []participantRow
	if err := q.session.QueryRowsCtx(ctx, &rows, query, args...); err != nil {
		return nil, wrapNotFound(err, "store: active participants")
	}
	out := make([]domain.Participant, 0, len(rows))
	for i := range rows {
		participant, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *participant)
	}
	return out, nil
}

// InsertParticipant enrolls a participant.
func (q *queries) InsertParticipant(ctx context.Context, p *domain.Participant) error {
	config, err := encodeAgentConfig(p.AgentConfig)
	if err != nil {
		return err
	}
	query := `
INSERT INTO participants (
    id, competition_id, name, agent_provider, agent_model, agent_config,
    status, initial_capital, current_equity, peak_equity,
    total_trades, winning_trades, losing_trades, timeout_seconds, joined_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = q.session.ExecCtx(ctx, query,
		p.ID, p.CompetitionID, p.Name, p.AgentProvider, p.AgentModel, config,
		p.Status, p.InitialCapital.Round(2), p.CurrentEquity.Round(2), p.PeakEquity.Round(2),
		p.TotalTrades, p.WinningTrades, p.LosingTrades, p.TimeoutSeconds, p.JoinedAt)
	if err != nil {
		return wrapNotFound(err, "store: insert participant")
	}
	return nil
}

// SaveParticipant persists equity, status and trade counters.
func (q *queries) SaveParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
UPDATE participants SET
    status = $2,
    current_equity = $3,
    peak_equity = $4,
    total_trades = $5,
    winning_trades = $6,
    losing_trades = $7
WHERE id = $1`
	_, err := q.session.ExecCtx(ctx, query,
		p.ID, p.Status, p.CurrentEquity.Round(2), p.PeakEquity.Round(2),
		p.TotalTrades, p.WinningTrades, p.LosingTrades)
	if err != nil {
		return wrapNotFound(err, "store: save participant")
	}
	return nil
}

// Leaderboard ranks a competition's participants by current equity.
func (q *queries) Leaderboard(ctx context.Context, competitionID uuid.UUID) ([]domain.LeaderboardEntry, error) {
	type leaderboardRow struct {
		Name           string          `db:"name"`
		CurrentEquity  decimal.Decimal `db:"current_equity"`
		InitialCapital decimal.Decimal `db:"initial_capital"`
	}
	var rows []leaderboardRow
	query := `
SELECT name, current_equity, initial_capital
FROM participants
WHERE competition_id = $1
ORDER BY current_equity DESC`
	if err := q.session.QueryRowsCtx(ctx, &rows, query, competitionID); err != nil {
		return nil, wrapNotFound(err, "store: leaderboard")
	}

	hundred := decimal.NewFromInt(100)
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		pnlPct := decimal.Zero
		if row.InitialCapital.Sign() > 0 {
			pnlPct = row.CurrentEquity.Sub(row.InitialCapital).Div(row.InitialCapital).Mul(hundred)
		}
		out = append(out, domain.LeaderboardEntry{
			Rank:   i + 1,
			Name:   row.Name,
			Equity: row.CurrentEquity,
			PnLPct: pnlPct.Round(2),
		})
	}
	return out, nil
}

func encodeAgentConfig(config map[string]any) (any, error) {
	if len(config) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("store: encode agent config: %w", err)
	}
	return encoded, nil
}
