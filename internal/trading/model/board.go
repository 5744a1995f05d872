package model

import (
	"fmt"
	"time"
)

// TradingPeriod is a daily session window in the board's time zone, "HH:MM" inclusive.
type TradingPeriod struct {
	From string `json:"from" yaml:"from"`
	Till string `json:"till" yaml:"till"`
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Location resolves the board time zone, nil when unset or unknown.
func (m *BoardDefinition) Location() *time.Location {
	if m.TimeZone == "" {
		return nil
	}
	loc, err := time.LoadLocation(m.TimeZone)
	if err != nil {
		return nil
	}
	return loc
}

// IsTradeTime reports whether t falls in one of the trading periods.
// A board without periods trades all day.
func (m *BoardDefinition) IsTradeTime(t time.Time) bool {
	if len(m.Periods) == 0 {
		return true
	}
	if loc := m.Location(); loc != nil {
		t = t.In(loc)
	}
	clock := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	for _, p := range m.Periods {
		from, err := parseClock(p.From)
		if err != nil {
			continue
		}
		till, err := parseClock(p.Till)
		if err != nil {
			continue
		}
		if from <= till {
			if clock >= from && clock <= till+time.Minute-time.Second {
				return true
			}
		} else if clock >= from || clock <= till+time.Minute-time.Second {
			// overnight session
			return true
		}
	}
	return false
}

// Validate checks the period clocks.
func (m *BoardDefinition) Validate() error {
	for _, p := range m.Periods {
		if _, err := parseClock(p.From); err != nil {
			return err
		}
		if _, err := parseClock(p.Till); err != nil {
			return err
		}
	}
	return nil
}
