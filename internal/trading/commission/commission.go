// Package commission charges order and trade commissions from a shared rule set.
package commission

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RuleSet holds the registered rules. It is shared by every portfolio of a run.
type RuleSet struct {
	mu    sync.RWMutex
	rules []model.CommissionRule
}

func NewRuleSet(rules ...model.CommissionRule) (*RuleSet, error) {
	s := &RuleSet{}
	for _, r := range rules {
		if err := s.Add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add validates and appends a rule.
func (s *RuleSet) Add(rule model.CommissionRule) error {
	switch rule.Kind {
	case model.CommissionPerOrder, model.CommissionPerTrade, model.CommissionPerOrderVolume,
		model.CommissionPerTradeVolume, model.CommissionPerTradePrice, model.CommissionTurnover,
		model.CommissionMaker, model.CommissionTaker:
	default:
		return fmt.Errorf("unknown commission rule kind %q", rule.Kind)
	}
	if rule.Value.IsNegative() {
		return fmt.Errorf("commission rule %s has negative value %s", rule.Kind, rule.Value)
	}
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
	return nil
}

// Rules returns a copy of the registered rules.
func (s *RuleSet) Rules() []model.CommissionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CommissionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len is the number of rules.
func (s *RuleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Reset removes every rule.
func (s *RuleSet) Reset() {
	s.mu.Lock()
	s.rules = nil
	s.mu.Unlock()
}

func applies(rule model.CommissionRule, id model.SecurityID) bool {
	if rule.Security != "" && rule.Security != id.Code {
		return false
	}
	if rule.Board != "" && !strings.EqualFold(rule.Board, id.Board) {
		return false
	}
	return true
}

// Calculate returns the commission the rules charge for exec, invalid when no rule applies.
// Order reports are charged by order rules, trade reports by trade rules.
func (s *RuleSet) Calculate(exec *model.Execution) decimal.NullDecimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	matched := false
	for _, r := range s.rules {
		if !applies(r, exec.SecurityID) {
			continue
		}
		var v decimal.Decimal
		ok := true
		if exec.HasTradeInfo {
			price := exec.TradePrice.Decimal
			volume := exec.TradeVolume.Decimal
			switch r.Kind {
			case model.CommissionPerTrade:
				v = r.Value
			case model.CommissionPerTradeVolume:
				v = r.Value.Mul(volume)
			case model.CommissionPerTradePrice:
				v = r.Value.Mul(price)
			case model.CommissionTurnover:
				v = price.Mul(volume).Mul(r.Value).Div(hundred)
			case model.CommissionMaker:
				ok = exec.IsMaker
				v = price.Mul(volume).Mul(r.Value).Div(hundred)
			case model.CommissionTaker:
				ok = !exec.IsMaker
				v = price.Mul(volume).Mul(r.Value).Div(hundred)
			default:
				ok = false
			}
		} else if exec.HasOrderInfo {
			switch r.Kind {
			case model.CommissionPerOrder:
				v = r.Value
			case model.CommissionPerOrderVolume:
				v = r.Value.Mul(exec.OrderVolume)
			default:
				ok = false
			}
		} else {
			ok = false
		}
		if !ok {
			continue
		}
		matched = true
		total = total.Add(v)
	}
	if !matched {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(total)
}

// Manager accumulates the commission of one portfolio.
type Manager struct {
	rules *RuleSet
	total decimal.Decimal
}

func NewManager(rules *RuleSet) *Manager {
	return &Manager{rules: rules, total: decimal.Zero}
}

// Process charges exec and adds the charge to the running total.
func (m *Manager) Process(exec *model.Execution) decimal.NullDecimal {
	c := m.rules.Calculate(exec)
	if c.Valid {
		m.total = m.total.Add(c.Decimal)
	}
	return c
}

// Commission is the total charged so far.
func (m *Manager) Commission() decimal.Decimal {
	return m.total
}

// Reset zeroes the running total.
func (m *Manager) Reset() {
	m.total = decimal.Zero
}
