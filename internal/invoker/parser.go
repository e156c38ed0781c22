package invoker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nykznykz/gauntlet/internal/domain"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// ParseDecision extracts a decision document from a raw agent reply. Replies
// arrive wrapped in prose, markdown fences or reasoning sections, so a chain
// of narrowing candidates is tried in order; the first one that parses and
// validates against the grammar wins.
func ParseDecision(raw string) (*Decision, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF"))
	if raw == "" {
		return nil, fmt.Errorf("empty reply")
	}

	var lastErr error
	for _, candidate := range candidates(raw) {
		decision, err := decodeDecision(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return decision, nil
	}
	return nil, fmt.Errorf("no parsable decision in reply: %w", lastErr)
}

// candidates orders the substrings worth attempting: a [Response] section,
// any fenced code block, the outermost brace span, and finally the whole
// reply.
func candidates(raw string) []string {
	var out []string

	if idx := strings.LastIndex(raw, "[Response]"); idx >= 0 {
		section := strings.TrimSpace(raw[idx+len("[Response]"):])
		if section != "" {
			out = append(out, section)
		}
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		block := strings.TrimSpace(match[1])
		if block != "" {
			out = append(out, block)
		}
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			out = append(out, raw[start:end+1])
		}
	}

	out = append(out, raw)
	return out
}

func decodeDecision(candidate string) (*Decision, error) {
	var decision Decision
	if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
		return nil, err
	}
	if err := validateDecision(&decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// validateDecision enforces the response grammar.
func validateDecision(d *Decision) error {
	switch d.Decision {
	case DecisionTrade, DecisionHold:
	default:
		return fmt.Errorf("decision must be %q or %q, got %q", DecisionTrade, DecisionHold, d.Decision)
	}
	if utf8.RuneCountInString(d.Reasoning) > maxReasoningChars {
		return fmt.Errorf("reasoning exceeds %d chars", maxReasoningChars)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("confidence %v outside [0, 1]", *d.Confidence)
	}
	if d.Decision == DecisionHold && len(d.Orders) > 0 {
		return fmt.Errorf("hold decision carries %d orders", len(d.Orders))
	}

	for i, order := range d.Orders {
		switch order.Action {
		case domain.ActionOpen:
			if strings.TrimSpace(order.Symbol) == "" {
				return fmt.Errorf("orders[%d]: symbol required for open", i)
			}
			if order.Side != "buy" && order.Side != "sell" {
				return fmt.Errorf("orders[%d]: side must be buy or sell, got %q", i, order.Side)
			}
			if order.Quantity == nil || *order.Quantity <= 0 {
				return fmt.Errorf("orders[%d]: quantity must be positive", i)
			}
			if order.Leverage < 1 {
				return fmt.Errorf("orders[%d]: leverage must be >= 1", i)
			}
		case domain.ActionClose, domain.ActionIncrease, domain.ActionDecrease:
			if strings.TrimSpace(order.PositionID) == "" {
				return fmt.Errorf("orders[%d]: position_id required for %s", i, order.Action)
			}
			if order.Quantity != nil && *order.Quantity <= 0 {
				return fmt.Errorf("orders[%d]: quantity must be positive when present", i)
			}
		default:
			return fmt.Errorf("orders[%d]: unknown action %q", i, order.Action)
		}
	}
	return nil
}
