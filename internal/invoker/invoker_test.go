package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/internal/engine"
	"github.com/nykznykz/gauntlet/pkg/agent"
	"github.com/nykznykz/gauntlet/pkg/market"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeStore is an in-memory invoker.Store.
type fakeStore struct {
	competitions map[uuid.UUID]*domain.Competition
	participants map[uuid.UUID]*domain.Participant
	portfolios   map[uuid.UUID]*domain.Portfolio
	positions    map[uuid.UUID]*domain.Position
	orders       map[uuid.UUID]*domain.Order
	trades       []*domain.Trade
	invocations  map[uuid.UUID]*domain.Invocation
	history      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		competitions: map[uuid.UUID]*domain.Competition{},
		participants: map[uuid.UUID]*domain.Participant{},
		portfolios:   map[uuid.UUID]*domain.Portfolio{},
		positions:    map[uuid.UUID]*domain.Position{},
		orders:       map[uuid.UUID]*domain.Order{},
		invocations:  map[uuid.UUID]*domain.Invocation{},
	}
}

func (s *fakeStore) CompetitionByID(_ context.Context, id uuid.UUID) (*domain.Competition, error) {
	if c, ok := s.competitions[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, engine.ErrNotFound
}

func (s *fakeStore) ParticipantByID(_ context.Context, id uuid.UUID) (*domain.Participant, error) {
	if p, ok := s.participants[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, engine.ErrNotFound
}

func (s *fakeStore) SaveParticipant(_ context.Context, p *domain.Participant) error {
	copied := *p
	s.participants[p.ID] = &copied
	return nil
}

func (s *fakeStore) PortfolioByParticipant(_ context.Context, participantID uuid.UUID) (*domain.Portfolio, error) {
	for _, p := range s.portfolios {
		if p.ParticipantID == participantID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (s *fakeStore) InsertPortfolio(_ context.Context, p *domain.Portfolio) error {
	copied := *p
	s.portfolios[p.ID] = &copied
	return nil
}

func (s *fakeStore) SavePortfolio(_ context.Context, p *domain.Portfolio) error {
	copied := *p
	s.portfolios[p.ID] = &copied
	return nil
}

func (s *fakeStore) AppendHistory(_ context.Context, _ *domain.HistoryPoint) error {
	s.history++
	return nil
}

func (s *fakeStore) PositionByID(_ context.Context, id uuid.UUID) (*domain.Position, error) {
	if p, ok := s.positions[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, engine.ErrNotFound
}

func (s *fakeStore) PositionBySymbol(_ context.Context, participantID uuid.UUID, symbol string) (*domain.Position, error) {
	for _, p := range s.positions {
		if p.ParticipantID == participantID && p.Symbol == symbol {
			copied := *p
			return &copied, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (s *fakeStore) PositionsByPortfolio(_ context.Context, portfolioID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) PositionsByParticipant(_ context.Context, participantID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.ParticipantID == participantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertPosition(_ context.Context, p *domain.Position) error {
	copied := *p
	s.positions[p.ID] = &copied
	return nil
}

func (s *fakeStore) SavePosition(_ context.Context, p *domain.Position) error {
	copied := *p
	s.positions[p.ID] = &copied
	return nil
}

func (s *fakeStore) DeletePosition(_ context.Context, id uuid.UUID) error {
	delete(s.positions, id)
	return nil
}

func (s *fakeStore) SaveOrder(_ context.Context, o *domain.Order) error {
	copied := *o
	s.orders[o.ID] = &copied
	return nil
}

func (s *fakeStore) InsertTrade(_ context.Context, t *domain.Trade) error {
	copied := *t
	s.trades = append(s.trades, &copied)
	return nil
}

func (s *fakeStore) Transact(_ context.Context, _ uuid.UUID, fn func(tx engine.Store) error) error {
	return fn(s)
}

func (s *fakeStore) Leaderboard(_ context.Context, competitionID uuid.UUID) ([]domain.LeaderboardEntry, error) {
	var out []domain.LeaderboardEntry
	rank := 1
	for _, p := range s.participants {
		if p.CompetitionID == competitionID {
			out = append(out, domain.LeaderboardEntry{Rank: rank, Name: p.Name, Equity: p.CurrentEquity})
			rank++
		}
	}
	return out, nil
}

func (s *fakeStore) InsertInvocation(_ context.Context, inv *domain.Invocation) error {
	copied := *inv
	s.invocations[inv.ID] = &copied
	return nil
}

func (s *fakeStore) SaveInvocation(_ context.Context, inv *domain.Invocation) error {
	copied := *inv
	s.invocations[inv.ID] = &copied
	return nil
}

// fakeClient replays a scripted reply or error.
type fakeClient struct {
	reply *agent.Reply
	err   error
}

func (c *fakeClient) Invoke(_ context.Context, _, _ string, _ agent.InvokeConfig) (*agent.Reply, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}

type fakeTransport struct {
	client *fakeClient
}

func (t *fakeTransport) Client(string) (agent.Client, error) { return t.client, nil }
func (t *fakeTransport) EstimateCost(string, int, int) decimal.Decimal {
	return dec("0.01")
}

// fakeMarket serves a static price table with empty candles.
type fakeMarket struct {
	prices map[string]decimal.Decimal
}

func (m *fakeMarket) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("no price for %s", symbol)
}

func (m *fakeMarket) Ticker(context.Context, string) (*market.Ticker, error) {
	return nil, errors.New("not implemented")
}

func (m *fakeMarket) OHLCV(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, errors.New("no candles")
}

type invokerFixture struct {
	store       *fakeStore
	market      *fakeMarket
	transport   *fakeTransport
	invoker     *Invoker
	competition *domain.Competition
	participant *domain.Participant
	portfolio   *domain.Portfolio
}

func newInvokerFixture(t *testing.T, reply string) *invokerFixture {
	t.Helper()
	store := newFakeStore()
	mkt := &fakeMarket{prices: map[string]decimal.Decimal{
		"BTCUSDT": dec("100000"),
		"ETHUSDT": dec("4000"),
	}}

	competition := &domain.Competition{
		ID:                   uuid.New(),
		Name:                 "alpha arena",
		Status:               domain.CompetitionActive,
		StartTime:            time.Now().Add(-time.Hour),
		EndTime:              time.Now().Add(24 * time.Hour),
		InitialCapital:       dec("10000"),
		MaxLeverage:          dec("10"),
		MaintenanceMarginPct: dec("5"),
		AllowedAssetClasses:  []string{"crypto"},
	}
	store.competitions[competition.ID] = competition

	participant := &domain.Participant{
		ID:             uuid.New(),
		CompetitionID:  competition.ID,
		Name:           "claude",
		AgentProvider:  "openai",
		AgentModel:     "gpt-4o",
		Status:         domain.ParticipantActive,
		InitialCapital: dec("10000"),
		CurrentEquity:  dec("10000"),
		PeakEquity:     dec("10000"),
	}
	store.participants[participant.ID] = participant

	portfolio := &domain.Portfolio{
		ID:              uuid.New(),
		ParticipantID:   participant.ID,
		CashBalance:     dec("10000"),
		Equity:          dec("10000"),
		MarginAvailable: dec("10000"),
	}
	store.portfolios[portfolio.ID] = portfolio

	transport := &fakeTransport{client: &fakeClient{reply: &agent.Reply{
		Text:             reply,
		PromptTokens:     1200,
		CompletionTokens: 80,
	}}}

	trading := engine.NewTradingEngine(store, mkt)
	inv := New(store, trading, transport, mkt, []string{"BTCUSDT", "ETHUSDT"})

	return &invokerFixture{
		store:       store,
		market:      mkt,
		transport:   transport,
		invoker:     inv,
		competition: competition,
		participant: participant,
		portfolio:   portfolio,
	}
}

func TestInvokeHoldDecision(t *testing.T) {
	f := newInvokerFixture(t, "```json\n{\"decision\":\"hold\",\"reasoning\":\"wait\"}\n```")

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	require.NotNil(t, invocation)

	assert.Equal(t, domain.InvocationSuccess, invocation.Status)
	assert.Empty(t, f.store.orders)
	assert.Empty(t, f.store.trades)
	assert.Equal(t, 1200, invocation.PromptTokens)
	assert.True(t, invocation.EstimatedCost.Equal(dec("0.01")))

	var decision Decision
	require.NoError(t, json.Unmarshal(invocation.ParsedDecision, &decision))
	assert.Equal(t, DecisionHold, decision.Decision)
}

func TestInvokeExecutesOpenOrder(t *testing.T) {
	reply := `{"decision":"trade","reasoning":"momentum","orders":[{"action":"open","symbol":"BTCUSDT","side":"buy","quantity":0.05,"leverage":2}]}`
	f := newInvokerFixture(t, reply)

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvocationSuccess, invocation.Status)

	require.Len(t, f.store.trades, 1)
	assert.Equal(t, domain.ActionOpen, f.store.trades[0].Action)

	var results []ExecutionResult
	require.NoError(t, json.Unmarshal(invocation.ExecutionResults, &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].ValidationPassed)
	assert.Equal(t, domain.OrderExecuted, results[0].Status)
	require.NotNil(t, results[0].ExecutedPrice)
	assert.Equal(t, 100000.0, *results[0].ExecutedPrice)
}

func TestInvokeRejectedOrderDoesNotBlockSiblings(t *testing.T) {
	// First order over-leverages; second is fine. Array order is preserved.
	reply := `{"decision":"trade","reasoning":"split","orders":[
		{"action":"open","symbol":"BTCUSDT","side":"buy","quantity":0.05,"leverage":50},
		{"action":"open","symbol":"ETHUSDT","side":"sell","quantity":1,"leverage":5}
	]}`
	f := newInvokerFixture(t, reply)

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvocationSuccess, invocation.Status)

	var results []ExecutionResult
	require.NoError(t, json.Unmarshal(invocation.ExecutionResults, &results))
	require.Len(t, results, 2)

	assert.False(t, results[0].ValidationPassed)
	assert.Contains(t, results[0].RejectionReason, "exceeds max")
	assert.True(t, results[1].ValidationPassed)
	assert.Equal(t, domain.OrderExecuted, results[1].Status)
	require.Len(t, f.store.trades, 1)
	assert.Equal(t, "ETHUSDT", f.store.trades[0].Symbol)
}

func TestInvokeCloseSymbolCorrection(t *testing.T) {
	f := newInvokerFixture(t, "")
	ctx := context.Background()

	// Seed an open ETH position.
	position := engine.NewPosition(f.portfolio, "ETHUSDT", "crypto", "long",
		dec("1"), dec("4000"), dec("2"), nil)
	require.NoError(t, f.store.InsertPosition(ctx, position))

	// Agent closes it but names the wrong symbol and omits side/quantity.
	reply := fmt.Sprintf(`{"decision":"trade","reasoning":"exit","orders":[{"action":"close","symbol":"BTCUSDT","position_id":"%s"}]}`, position.ID)
	f.transport.client.reply.Text = reply

	invocation, err := f.invoker.Invoke(ctx, f.participant.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvocationSuccess, invocation.Status)

	require.Len(t, f.store.trades, 1)
	trade := f.store.trades[0]
	assert.Equal(t, "ETHUSDT", trade.Symbol, "stored position symbol wins")
	assert.Equal(t, "sell", trade.Side, "side inferred from the long position")
	assert.True(t, trade.Quantity.Equal(dec("1")))
	assert.True(t, trade.Price.Equal(dec("4000")), "filled at the ETH price")
}

func TestInvokeTransportError(t *testing.T) {
	f := newInvokerFixture(t, "")
	f.transport.client.err = errors.New("connection refused")

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	require.NotNil(t, invocation)
	assert.Equal(t, domain.InvocationError, invocation.Status)
	assert.Contains(t, invocation.ErrorMessage, "connection refused")
	assert.Empty(t, f.store.orders)
}

func TestInvokeTimeout(t *testing.T) {
	f := newInvokerFixture(t, "")
	f.transport.client.err = fmt.Errorf("agent: invoke model gpt-4o: %w", context.DeadlineExceeded)

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationTimeout, invocation.Status)
}

func TestInvokeInvalidResponse(t *testing.T) {
	f := newInvokerFixture(t, "The market looks spicy today, maybe I should buy?")

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationInvalidResponse, invocation.Status)
	assert.Equal(t, "The market looks spicy today, maybe I should buy?", invocation.ResponseText)
	assert.Empty(t, f.store.orders)
}

func TestInvokeSkipsInactiveParticipant(t *testing.T) {
	f := newInvokerFixture(t, "")
	f.participant.Status = domain.ParticipantLiquidated
	f.store.participants[f.participant.ID] = f.participant

	invocation, err := f.invoker.Invoke(context.Background(), f.participant.ID)
	require.NoError(t, err)
	assert.Nil(t, invocation)
}

func TestInvokeMissingParticipant(t *testing.T) {
	f := newInvokerFixture(t, "")
	invocation, err := f.invoker.Invoke(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, invocation)
}
