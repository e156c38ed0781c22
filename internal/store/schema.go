package store

import (
	"context"
	"fmt"
)

// schema is the logical data model: competitions own everything beneath them
// via cascading foreign keys, while trades keep only a weak reference to the
// position that created them.
const schema = `
CREATE TABLE IF NOT EXISTS competitions (
    id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status VARCHAR(50) NOT NULL DEFAULT 'pending',
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ NOT NULL,
    invocation_interval_minutes INT NOT NULL DEFAULT 15,
    initial_capital NUMERIC(20,2) NOT NULL,
    max_leverage NUMERIC(5,2) NOT NULL DEFAULT 10,
    maintenance_margin_pct NUMERIC(5,2) NOT NULL DEFAULT 5,
    allowed_asset_classes TEXT[] NOT NULL DEFAULT '{crypto}',
    max_participants INT NOT NULL DEFAULT 5,
    market_hours_only BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT valid_dates CHECK (end_time > start_time),
    CONSTRAINT valid_leverage CHECK (max_leverage >= 1.0 AND max_leverage <= 100.0),
    CONSTRAINT valid_margin CHECK (maintenance_margin_pct < 100.0 / max_leverage)
);

CREATE TABLE IF NOT EXISTS participants (
    id UUID PRIMARY KEY,
    competition_id UUID NOT NULL REFERENCES competitions(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    agent_provider VARCHAR(50) NOT NULL,
    agent_model VARCHAR(100) NOT NULL,
    agent_config JSONB,
    status VARCHAR(50) NOT NULL DEFAULT 'active',
    initial_capital NUMERIC(20,2) NOT NULL,
    current_equity NUMERIC(20,2) NOT NULL,
    peak_equity NUMERIC(20,2) NOT NULL,
    total_trades INT NOT NULL DEFAULT 0,
    winning_trades INT NOT NULL DEFAULT 0,
    losing_trades INT NOT NULL DEFAULT 0,
    timeout_seconds INT NOT NULL DEFAULT 30,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT unique_participant_name UNIQUE (competition_id, name)
);

CREATE TABLE IF NOT EXISTS portfolios (
    id UUID PRIMARY KEY,
    participant_id UUID NOT NULL UNIQUE REFERENCES participants(id) ON DELETE CASCADE,
    cash_balance NUMERIC(20,2) NOT NULL,
    equity NUMERIC(20,2) NOT NULL,
    margin_used NUMERIC(20,2) NOT NULL DEFAULT 0,
    margin_available NUMERIC(20,2) NOT NULL,
    realized_pnl NUMERIC(20,2) NOT NULL DEFAULT 0,
    unrealized_pnl NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_pnl NUMERIC(20,2) NOT NULL DEFAULT 0,
    current_leverage NUMERIC(10,4) NOT NULL DEFAULT 0,
    margin_level NUMERIC(12,2),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
    id UUID PRIMARY KEY,
    portfolio_id UUID NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    symbol VARCHAR(30) NOT NULL,
    asset_class VARCHAR(30) NOT NULL DEFAULT 'crypto',
    side VARCHAR(10) NOT NULL,
    quantity NUMERIC(30,8) NOT NULL,
    entry_price NUMERIC(30,8) NOT NULL,
    current_price NUMERIC(30,8) NOT NULL,
    leverage NUMERIC(10,2) NOT NULL,
    margin_required NUMERIC(20,2) NOT NULL,
    notional_value NUMERIC(20,2) NOT NULL,
    unrealized_pnl NUMERIC(20,2) NOT NULL DEFAULT 0,
    unrealized_pnl_pct NUMERIC(12,4) NOT NULL DEFAULT 0,
    exit_plan JSONB,
    opened_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_positions_participant ON positions (participant_id);

CREATE TABLE IF NOT EXISTS invocations (
    id UUID PRIMARY KEY,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    competition_id UUID NOT NULL REFERENCES competitions(id) ON DELETE CASCADE,
    prompt_text TEXT NOT NULL,
    prompt_tokens INT NOT NULL DEFAULT 0,
    response_tokens INT NOT NULL DEFAULT 0,
    market_data_snapshot JSONB,
    portfolio_snapshot JSONB,
    response_text TEXT NOT NULL DEFAULT '',
    parsed_decision JSONB,
    execution_results JSONB,
    invocation_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    response_time_ms INT NOT NULL DEFAULT 0,
    status VARCHAR(50) NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    estimated_cost NUMERIC(10,6) NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_invocations_participant ON invocations (participant_id, invocation_time DESC);

CREATE TABLE IF NOT EXISTS orders (
    id UUID PRIMARY KEY,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    competition_id UUID NOT NULL REFERENCES competitions(id) ON DELETE CASCADE,
    invocation_id UUID REFERENCES invocations(id) ON DELETE SET NULL,
    symbol VARCHAR(30) NOT NULL,
    asset_class VARCHAR(30) NOT NULL DEFAULT 'crypto',
    order_type VARCHAR(20) NOT NULL DEFAULT 'market',
    side VARCHAR(10) NOT NULL DEFAULT '',
    quantity NUMERIC(30,8) NOT NULL DEFAULT 0,
    requested_price NUMERIC(30,8),
    executed_price NUMERIC(30,8),
    leverage NUMERIC(10,2) NOT NULL DEFAULT 1,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    rejection_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    executed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS trades (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    position_id UUID REFERENCES positions(id) ON DELETE SET NULL,
    symbol VARCHAR(30) NOT NULL,
    side VARCHAR(10) NOT NULL,
    quantity NUMERIC(30,8) NOT NULL,
    price NUMERIC(30,8) NOT NULL,
    action VARCHAR(20) NOT NULL,
    leverage NUMERIC(10,2) NOT NULL,
    notional_value NUMERIC(20,2) NOT NULL,
    margin_impact NUMERIC(20,2) NOT NULL,
    realized_pnl NUMERIC(20,2),
    realized_pnl_pct NUMERIC(12,4),
    executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trades_participant_time ON trades (participant_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS portfolio_history (
    id UUID PRIMARY KEY,
    participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
    equity NUMERIC(20,2) NOT NULL,
    cash_balance NUMERIC(20,2) NOT NULL,
    margin_used NUMERIC(20,2) NOT NULL,
    realized_pnl NUMERIC(20,2) NOT NULL,
    unrealized_pnl NUMERIC(20,2) NOT NULL,
    total_pnl NUMERIC(20,2) NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_history_participant_time ON portfolio_history (participant_id, recorded_at);
`

// EnsureSchema creates the tables when they don't exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.session.ExecCtx(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}
