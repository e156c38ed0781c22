package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/domain"
	"github.com/nykznykz/gauntlet/internal/engine"
	"github.com/nykznykz/gauntlet/pkg/agent"
	"github.com/nykznykz/gauntlet/pkg/market"
)

// defaultTimeout applies when a participant carries no timeout of its own.
const defaultTimeout = 30 * time.Second

// Store is the persistence surface the invoker needs on top of the engine's.
type Store interface {
	engine.TxStore
	PositionsByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.Position, error)
	Leaderboard(ctx context.Context, competitionID uuid.UUID) ([]domain.LeaderboardEntry, error)
	InsertInvocation(ctx context.Context, invocation *domain.Invocation) error
	SaveInvocation(ctx context.Context, invocation *domain.Invocation) error
}

// Transport resolves provider tags to agent clients and prices their calls.
// Satisfied by *agent.Registry.
type Transport interface {
	Client(provider string) (agent.Client, error)
	EstimateCost(model string, promptTokens, completionTokens int) decimal.Decimal
}

// Invoker drives one agent round end to end.
type Invoker struct {
	store     Store
	trading   *engine.TradingEngine
	transport Transport
	marketSrc market.Provider
	symbols   []string
}

// New wires an invoker.
func New(store Store, trading *engine.TradingEngine, transport Transport, marketSrc market.Provider, symbols []string) *Invoker {
	return &Invoker{
		store:     store,
		trading:   trading,
		transport: transport,
		marketSrc: marketSrc,
		symbols:   symbols,
	}
}

// Invoke snapshots the participant's world, calls its agent and executes the
// parsed orders. It returns nil (no invocation) when the participant is
// missing or inactive. Transport and parse failures are recorded on the
// invocation, not returned: the next scheduler tick is the retry.
func (inv *Invoker) Invoke(ctx context.Context, participantID uuid.UUID) (*domain.Invocation, error) {
	participant, err := inv.store.ParticipantByID(ctx, participantID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("invoker: load participant: %w", err)
	}
	if participant.Status != domain.ParticipantActive {
		return nil, nil
	}

	competition, err := inv.store.CompetitionByID(ctx, participant.CompetitionID)
	if err != nil {
		return nil, fmt.Errorf("invoker: load competition: %w", err)
	}
	portfolio, err := inv.store.PortfolioByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("invoker: load portfolio: %w", err)
	}
	positions, err := inv.store.PositionsByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("invoker: load positions: %w", err)
	}
	leaderboard, err := inv.store.Leaderboard(ctx, competition.ID)
	if err != nil {
		return nil, fmt.Errorf("invoker: load leaderboard: %w", err)
	}

	snapshots := market.BuildSnapshot(ctx, inv.marketSrc, inv.symbols)
	now := time.Now().UTC()
	userPayload, err := buildUserPayload(competition, portfolio, positions, snapshots, leaderboard, now)
	if err != nil {
		return nil, err
	}

	marketBlob, _ := json.Marshal(snapshots)
	portfolioBlob, _ := json.Marshal(promptPortfolioSnapshot(portfolio))

	invocation := &domain.Invocation{
		ID:                 uuid.New(),
		ParticipantID:      participant.ID,
		CompetitionID:      competition.ID,
		PromptText:         string(userPayload),
		MarketDataSnapshot: marketBlob,
		PortfolioSnapshot:  portfolioBlob,
		InvocationTime:     now,
		Status:             domain.InvocationPending,
	}
	if err := inv.store.InsertInvocation(ctx, invocation); err != nil {
		return nil, fmt.Errorf("invoker: persist pending invocation: %w", err)
	}

	client, err := inv.transport.Client(participant.AgentProvider)
	if err != nil {
		invocation.Status = domain.InvocationError
		invocation.ErrorMessage = err.Error()
		return invocation, inv.store.SaveInvocation(ctx, invocation)
	}

	timeout := defaultTimeout
	if participant.TimeoutSeconds > 0 {
		timeout = time.Duration(participant.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reply, err := client.Invoke(callCtx, systemPrompt, string(userPayload), invokeConfig(participant))
	invocation.ResponseTimeMs = int(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			invocation.Status = domain.InvocationTimeout
		} else {
			invocation.Status = domain.InvocationError
		}
		invocation.ErrorMessage = err.Error()
		logx.WithContext(ctx).Errorf("invoker: agent call failed participant=%s status=%s error=%v",
			participant.ID, invocation.Status, err)
		return invocation, inv.store.SaveInvocation(ctx, invocation)
	}

	invocation.ResponseText = reply.Text
	invocation.PromptTokens = reply.PromptTokens
	invocation.ResponseTokens = reply.CompletionTokens
	invocation.EstimatedCost = inv.transport.EstimateCost(participant.AgentModel, reply.PromptTokens, reply.CompletionTokens)

	decision, err := ParseDecision(reply.Text)
	if err != nil {
		invocation.Status = domain.InvocationInvalidResponse
		invocation.ErrorMessage = fmt.Sprintf("Failed to parse response: %v", err)
		return invocation, inv.store.SaveInvocation(ctx, invocation)
	}

	decisionBlob, _ := json.Marshal(decision)
	invocation.ParsedDecision = decisionBlob
	invocation.Status = domain.InvocationSuccess

	if decision.Decision == DecisionTrade && len(decision.Orders) > 0 {
		results := inv.processOrders(ctx, participant, competition, decision.Orders, invocation.ID)
		resultsBlob, _ := json.Marshal(results)
		invocation.ExecutionResults = resultsBlob
	}

	if err := inv.store.SaveInvocation(ctx, invocation); err != nil {
		return nil, fmt.Errorf("invoker: persist invocation: %w", err)
	}
	logx.WithContext(ctx).Infof("invoker: invocation complete participant=%s status=%s orders=%d elapsed_ms=%d",
		participant.ID, invocation.Status, len(decision.Orders), invocation.ResponseTimeMs)
	return invocation, nil
}

// processOrders validates and executes each order independently, in array
// order, reloading the portfolio between orders so later ones see earlier
// effects.
func (inv *Invoker) processOrders(
	ctx context.Context,
	participant *domain.Participant,
	competition *domain.Competition,
	orders []OrderDecision,
	invocationID uuid.UUID,
) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(orders))

	for _, decision := range orders {
		result := ExecutionResult{Symbol: decision.Symbol, Action: decision.Action}

		portfolio, err := inv.store.PortfolioByParticipant(ctx, participant.ID)
		if err != nil {
			result.Status = domain.OrderRejected
			result.Error = fmt.Sprintf("load portfolio: %v", err)
			results = append(results, result)
			continue
		}

		order, positionID, exitPlan, reason := inv.buildOrder(ctx, participant, competition, decision, invocationID)
		if reason == "" {
			ok, vreason := inv.trading.Validate(ctx, engine.ValidateInput{
				Participant: participant,
				Competition: competition,
				Portfolio:   portfolio,
				Symbol:      order.Symbol,
				Side:        order.Side,
				Quantity:    order.Quantity,
				Leverage:    order.Leverage,
				Action:      decision.Action,
				PositionID:  positionID,
			})
			if !ok {
				reason = vreason
			}
		}

		result.ValidationPassed = reason == ""
		if reason != "" {
			order.Status = domain.OrderRejected
			order.RejectionReason = reason
			result.Status = domain.OrderRejected
			result.RejectionReason = reason
			if err := inv.store.SaveOrder(ctx, order); err != nil {
				logx.WithContext(ctx).Errorf("invoker: persist rejected order: %v", err)
			}
			results = append(results, result)
			continue
		}

		order.Status = domain.OrderPending
		if err := inv.store.SaveOrder(ctx, order); err != nil {
			result.Status = domain.OrderRejected
			result.Error = fmt.Sprintf("persist order: %v", err)
			results = append(results, result)
			continue
		}

		if _, err := inv.trading.Execute(ctx, order, decision.Action, positionID, exitPlan); err != nil {
			// The per-order transaction already rolled back; record and move on.
			logx.WithContext(ctx).Errorf("invoker: execute order failed participant=%s symbol=%s error=%v",
				participant.ID, order.Symbol, err)
			result.Status = domain.OrderRejected
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		result.Symbol = order.Symbol
		result.Status = order.Status
		result.RejectionReason = order.RejectionReason
		if order.ExecutedPrice != nil {
			price := order.ExecutedPrice.InexactFloat64()
			result.ExecutedPrice = &price
		}
		results = append(results, result)

		// Keep the participant's trade counters fresh for subsequent orders.
		if refreshed, err := inv.store.ParticipantByID(ctx, participant.ID); err == nil {
			*participant = *refreshed
		}
	}
	return results
}

// buildOrder maps a wire order onto a domain order, applying the
// close-action correction: the stored position's symbol always wins, and it
// supplies side and quantity when the agent omitted them.
func (inv *Invoker) buildOrder(
	ctx context.Context,
	participant *domain.Participant,
	competition *domain.Competition,
	decision OrderDecision,
	invocationID uuid.UUID,
) (*domain.Order, *uuid.UUID, *domain.ExitPlan, string) {
	order := &domain.Order{
		ID:            uuid.New(),
		ParticipantID: participant.ID,
		CompetitionID: competition.ID,
		InvocationID:  invocationID,
		Symbol:        strings.TrimSpace(decision.Symbol),
		AssetClass:    "crypto",
		OrderType:     "market",
		Side:          decision.Side,
		Leverage:      decimal.NewFromFloat(decision.Leverage),
		CreatedAt:     time.Now().UTC(),
	}
	if decision.Quantity != nil {
		order.Quantity = decimal.NewFromFloat(*decision.Quantity)
	}
	if order.Leverage.Sign() <= 0 {
		order.Leverage = decimal.NewFromInt(1)
	}

	var positionID *uuid.UUID
	if decision.PositionID != "" {
		parsed, err := uuid.Parse(decision.PositionID)
		if err != nil {
			return order, nil, decision.ExitPlan, fmt.Sprintf("Invalid position_id %q", decision.PositionID)
		}
		positionID = &parsed
	}

	if decision.Action != domain.ActionOpen && positionID != nil {
		if position, err := inv.store.PositionByID(ctx, *positionID); err == nil {
			order.Symbol = position.Symbol
			if order.Side == "" {
				order.Side = engine.ClosingSide(position.Side)
			}
			if decision.Quantity == nil {
				order.Quantity = position.Quantity
			}
			order.Leverage = position.Leverage
		}
		// A lookup miss is left for validation to reject with its reason.
	}

	return order, positionID, decision.ExitPlan, ""
}

func invokeConfig(participant *domain.Participant) agent.InvokeConfig {
	cfg := agent.InvokeConfig{Model: participant.AgentModel}
	if raw, ok := participant.AgentConfig["temperature"]; ok {
		if v, ok := raw.(float64); ok {
			cfg.Temperature = &v
		}
	}
	if raw, ok := participant.AgentConfig["max_tokens"]; ok {
		if v, ok := raw.(float64); ok {
			tokens := int(v)
			cfg.MaxTokens = &tokens
		}
	}
	return cfg
}

// promptPortfolioSnapshot is the compact portfolio state stored on the
// invocation row.
func promptPortfolioSnapshot(portfolio *domain.Portfolio) map[string]any {
	return map[string]any{
		"cash_balance":     portfolio.CashBalance.InexactFloat64(),
		"equity":           portfolio.Equity.InexactFloat64(),
		"margin_used":      portfolio.MarginUsed.InexactFloat64(),
		"margin_available": portfolio.MarginAvailable.InexactFloat64(),
		"realized_pnl":     portfolio.RealizedPnL.InexactFloat64(),
		"unrealized_pnl":   portfolio.UnrealizedPnL.InexactFloat64(),
	}
}
