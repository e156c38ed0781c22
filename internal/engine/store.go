package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface the engines read and write through. The
// same interface is served by a live transaction and by the base connection;
// engines never care which they hold.
type Store interface {
	CompetitionByID(ctx context.Context, id uuid.UUID) (*domain.Competition, error)
	ParticipantByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error)
	SaveParticipant(ctx context.Context, participant *domain.Participant) error

	PortfolioByParticipant(ctx context.Context, participantID uuid.UUID) (*domain.Portfolio, error)
	InsertPortfolio(ctx context.Context, portfolio *domain.Portfolio) error
	SavePortfolio(ctx context.Context, portfolio *domain.Portfolio) error
	AppendHistory(ctx context.Context, point *domain.HistoryPoint) error

	PositionByID(ctx context.Context, id uuid.UUID) (*domain.Position, error)
	PositionBySymbol(ctx context.Context, participantID uuid.UUID, symbol string) (*domain.Position, error)
	PositionsByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]domain.Position, error)
	InsertPosition(ctx context.Context, position *domain.Position) error
	SavePosition(ctx context.Context, position *domain.Position) error
	DeletePosition(ctx context.Context, id uuid.UUID) error

	SaveOrder(ctx context.Context, order *domain.Order) error
	InsertTrade(ctx context.Context, trade *domain.Trade) error
}

// TxStore runs per-participant transactions. Transact serializes on the
// participant's portfolio row so mark-to-market and order execution never
// interleave for the same account.
type TxStore interface {
	Store
	Transact(ctx context.Context, participantID uuid.UUID, fn func(tx Store) error) error
}

// PriceSource supplies execution and revaluation prices.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}
