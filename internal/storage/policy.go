package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PolicyUnit is the time unit of a duration policy.
type PolicyUnit string

const (
	UnitMinutes PolicyUnit = "minutes"
	UnitDays    PolicyUnit = "days"
)

// Upper bounds for policy amounts.
const (
	MaxPolicyMinutes = 525600 // one year
	MaxPolicyDays    = 3650
)

// Policy is the fixed time span applied to compute a key's expiry.
type Policy struct {
	Amount int
	Unit   PolicyUnit
}

// Days returns a day-based policy.
func Days(n int) Policy { return Policy{Amount: n, Unit: UnitDays} }

// Minutes returns a minute-based policy.
func Minutes(n int) Policy { return Policy{Amount: n, Unit: UnitMinutes} }

// Duration returns the span as a time.Duration.
func (p Policy) Duration() time.Duration {
	switch p.Unit {
	case UnitMinutes:
		return time.Duration(p.Amount) * time.Minute
	default:
		return time.Duration(p.Amount) * 24 * time.Hour
	}
}

// String returns the canonical tag, e.g. "7days" or "2minutes".
func (p Policy) String() string {
	return strconv.Itoa(p.Amount) + string(p.Unit)
}

// IsZero reports whether the policy is unset.
func (p Policy) IsZero() bool { return p.Amount == 0 && p.Unit == "" }

// Validate checks unit and range.
func (p Policy) Validate() error {
	switch p.Unit {
	case UnitMinutes:
		if p.Amount < 1 || p.Amount > MaxPolicyMinutes {
			return fmt.Errorf("minutes must be between 1 and %d, got %d", MaxPolicyMinutes, p.Amount)
		}
	case UnitDays:
		if p.Amount < 1 || p.Amount > MaxPolicyDays {
			return fmt.Errorf("days must be between 1 and %d, got %d", MaxPolicyDays, p.Amount)
		}
	default:
		return fmt.Errorf("invalid policy unit %q", p.Unit)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePolicy parses tags such as "7days", "7 days", "1 day", "2minutes"
// or "2 min". Parsing is case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	t := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	i := 0
	for i < len(t) && t[i] >= '0' && t[i] <= '9' {
		i++
	}
	if i == 0 {
		return Policy{}, fmt.Errorf("invalid duration policy %q", s)
	}
	n, err := strconv.Atoi(t[:i])
	if err != nil {
		return Policy{}, fmt.Errorf("invalid duration policy %q: %w", s, err)
	}

	var p Policy
	switch t[i:] {
	case "d", "day", "days":
		p = Days(n)
	case "m", "min", "mins", "minute", "minutes":
		p = Minutes(n)
	default:
		return Policy{}, fmt.Errorf("invalid duration policy %q (unit must be days or minutes)", s)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
