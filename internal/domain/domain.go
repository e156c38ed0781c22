// Package domain holds the entities of the competition data model. All
// monetary quantities are exact decimals; money rounds to 2 fractional
// digits at persistence, quantities and prices to 8.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nykznykz/gauntlet/pkg/calc"
)

// Competition statuses.
const (
	CompetitionPending   = "pending"
	CompetitionActive    = "active"
	CompetitionCompleted = "completed"
	CompetitionCancelled = "cancelled"
)

// Participant statuses.
const (
	ParticipantActive       = "active"
	ParticipantLiquidated   = "liquidated"
	ParticipantDisqualified = "disqualified"
)

// Order statuses.
const (
	OrderPending   = "pending"
	OrderExecuted  = "executed"
	OrderRejected  = "rejected"
	OrderCancelled = "cancelled"
)

// Invocation statuses.
const (
	InvocationPending         = "pending"
	InvocationSuccess         = "success"
	InvocationTimeout         = "timeout"
	InvocationError           = "error"
	InvocationInvalidResponse = "invalid_response"
)

// Trade actions.
const (
	ActionOpen     = "open"
	ActionClose    = "close"
	ActionIncrease = "increase"
	ActionDecrease = "decrease"
)

// Competition is a time-bounded simulation configuration.
type Competition struct {
	ID                        uuid.UUID
	Name                      string
	Description               string
	Status                    string
	StartTime                 time.Time
	EndTime                   time.Time
	InvocationIntervalMinutes int
	InitialCapital            decimal.Decimal
	MaxLeverage               decimal.Decimal
	MaintenanceMarginPct      decimal.Decimal
	AllowedAssetClasses       []string
	MaxParticipants           int
	MarketHoursOnly           bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Participant is one agent enrolled in one competition.
type Participant struct {
	ID             uuid.UUID
	CompetitionID  uuid.UUID
	Name           string
	AgentProvider  string
	AgentModel     string
	AgentConfig    map[string]any
	Status         string
	InitialCapital decimal.Decimal
	CurrentEquity  decimal.Decimal
	PeakEquity     decimal.Decimal
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	TimeoutSeconds int
	JoinedAt       time.Time
}

// Portfolio is the per-participant account summary. MarginLevel is nil while
// no positions are open.
type Portfolio struct {
	ID              uuid.UUID
	ParticipantID   uuid.UUID
	CashBalance     decimal.Decimal
	Equity          decimal.Decimal
	MarginUsed      decimal.Decimal
	MarginAvailable decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	TotalPnL        decimal.Decimal
	CurrentLeverage decimal.Decimal
	MarginLevel     *decimal.Decimal
	UpdatedAt       time.Time
}

// ExitPlan is the optional exit intent recorded when a position opens. It is
// echoed back to the agent on subsequent invocations.
type ExitPlan struct {
	ProfitTarget *float64 `json:"profit_target,omitempty"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	Invalidation string   `json:"invalidation,omitempty"`
}

// Position is one open CFD exposure. MarginRequired is frozen at open from
// the entry notional; NotionalValue tracks the current price.
type Position struct {
	ID               uuid.UUID
	PortfolioID      uuid.UUID
	ParticipantID    uuid.UUID
	Symbol           string
	AssetClass       string
	Side             calc.Side
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	CurrentPrice     decimal.Decimal
	Leverage         decimal.Decimal
	MarginRequired   decimal.Decimal
	NotionalValue    decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
	ExitPlan         *ExitPlan
	OpenedAt         time.Time
}

// Order is a trade intent, executed or rejected.
type Order struct {
	ID              uuid.UUID
	ParticipantID   uuid.UUID
	CompetitionID   uuid.UUID
	InvocationID    uuid.UUID
	Symbol          string
	AssetClass      string
	OrderType       string
	Side            string
	Quantity        decimal.Decimal
	RequestedPrice  *decimal.Decimal
	ExecutedPrice   *decimal.Decimal
	Leverage        decimal.Decimal
	Status          string
	RejectionReason string
	CreatedAt       time.Time
	ExecutedAt      *time.Time
}

// Trade is one accounting entry. PositionID is nil on close actions because
// the position row is removed in the same transaction.
type Trade struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ParticipantID  uuid.UUID
	PositionID     *uuid.UUID
	Symbol         string
	Side           string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Action         string
	Leverage       decimal.Decimal
	NotionalValue  decimal.Decimal
	MarginImpact   decimal.Decimal
	RealizedPnL    *decimal.Decimal
	RealizedPnLPct *decimal.Decimal
	ExecutedAt     time.Time
}

// Invocation records one agent round: snapshot, call, reply, execution.
type Invocation struct {
	ID                 uuid.UUID
	ParticipantID      uuid.UUID
	CompetitionID      uuid.UUID
	PromptText         string
	PromptTokens       int
	ResponseTokens     int
	MarketDataSnapshot []byte
	PortfolioSnapshot  []byte
	ResponseText       string
	ParsedDecision     []byte
	ExecutionResults   []byte
	InvocationTime     time.Time
	ResponseTimeMs     int
	Status             string
	ErrorMessage       string
	EstimatedCost      decimal.Decimal
}

// HistoryPoint is a snapshot of a portfolio at a point in time, appended
// after every portfolio update.
type HistoryPoint struct {
	ID            uuid.UUID
	ParticipantID uuid.UUID
	Equity        decimal.Decimal
	CashBalance   decimal.Decimal
	MarginUsed    decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL      decimal.Decimal
	RecordedAt    time.Time
}

// LeaderboardEntry ranks a participant within its competition by equity.
type LeaderboardEntry struct {
	Rank   int             `json:"rank"`
	Name   string          `json:"name"`
	Equity decimal.Decimal `json:"equity"`
	PnLPct decimal.Decimal `json:"pnl_pct"`
}
