package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/internal/domain"
)

// memStore is an in-memory Store/TxStore used by the engine tests.
// Transact is a plain callback: the tests exercise accounting semantics, not
// isolation.
type memStore struct {
	competitions map[uuid.UUID]*domain.Competition
	participants map[uuid.UUID]*domain.Participant
	portfolios   map[uuid.UUID]*domain.Portfolio
	positions    map[uuid.UUID]*domain.Position
	orders       map[uuid.UUID]*domain.Order
	trades       []*domain.Trade
	history      []*domain.HistoryPoint

	failInsertTrade bool
}

func newMemStore() *memStore {
	return &memStore{
		competitions: map[uuid.UUID]*domain.Competition{},
		participants: map[uuid.UUID]*domain.Participant{},
		portfolios:   map[uuid.UUID]*domain.Portfolio{},
		positions:    map[uuid.UUID]*domain.Position{},
		orders:       map[uuid.UUID]*domain.Order{},
	}
}

func (s *memStore) CompetitionByID(_ context.Context, id uuid.UUID) (*domain.Competition, error) {
	if c, ok := s.competitions[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) ParticipantByID(_ context.Context, id uuid.UUID) (*domain.Participant, error) {
	if p, ok := s.participants[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) SaveParticipant(_ context.Context, participant *domain.Participant) error {
	copied := *participant
	s.participants[participant.ID] = &copied
	return nil
}

func (s *memStore) PortfolioByParticipant(_ context.Context, participantID uuid.UUID) (*domain.Portfolio, error) {
	for _, p := range s.portfolios {
		if p.ParticipantID == participantID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) InsertPortfolio(_ context.Context, portfolio *domain.Portfolio) error {
	copied := *portfolio
	s.portfolios[portfolio.ID] = &copied
	return nil
}

func (s *memStore) SavePortfolio(_ context.Context, portfolio *domain.Portfolio) error {
	copied := *portfolio
	s.portfolios[portfolio.ID] = &copied
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, point *domain.HistoryPoint) error {
	copied := *point
	s.history = append(s.history, &copied)
	return nil
}

func (s *memStore) PositionByID(_ context.Context, id uuid.UUID) (*domain.Position, error) {
	if p, ok := s.positions[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) PositionBySymbol(_ context.Context, participantID uuid.UUID, symbol string) (*domain.Position, error) {
	for _, p := range s.positions {
		if p.ParticipantID == participantID && p.Symbol == symbol {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) PositionsByPortfolio(_ context.Context, portfolioID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) InsertPosition(_ context.Context, position *domain.Position) error {
	copied := *position
	s.positions[position.ID] = &copied
	return nil
}

func (s *memStore) SavePosition(_ context.Context, position *domain.Position) error {
	copied := *position
	s.positions[position.ID] = &copied
	return nil
}

func (s *memStore) DeletePosition(_ context.Context, id uuid.UUID) error {
	delete(s.positions, id)
	return nil
}

func (s *memStore) SaveOrder(_ context.Context, order *domain.Order) error {
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *memStore) InsertTrade(_ context.Context, trade *domain.Trade) error {
	if s.failInsertTrade {
		return errors.New("trade insert failed")
	}
	copied := *trade
	s.trades = append(s.trades, &copied)
	return nil
}

func (s *memStore) Transact(ctx context.Context, _ uuid.UUID, fn func(tx Store) error) error {
	return fn(s)
}

// fakePrices is a static price table.
type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := f.prices[symbol]; ok {
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("no price for %s", symbol)
}

func (f *fakePrices) set(symbol, price string) {
	f.prices[symbol] = decimal.RequireFromString(price)
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: map[string]decimal.Decimal{}}
}
