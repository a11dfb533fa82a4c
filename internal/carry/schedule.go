package carry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeType is the formula of a schedule.
type FeeType string

const (
	Flat   FeeType = "flat"
	Tiered FeeType = "tiered"
)

// Tier is one bracket of a tiered schedule: profit beyond Start (a fraction
// of the water-line) is charged at Rate.
type Tier struct {
	Start decimal.Decimal `json:"start"`
	Rate  decimal.Decimal `json:"rate"`
}

// Schedule is a parsed fee formula.
type Schedule struct {
	Type  FeeType
	Ratio decimal.Decimal // flat only
	Tiers []Tier          // tiered only, sorted by Start descending
}

// IsZero reports whether the schedule charges nothing.
func (s Schedule) IsZero() bool {
	switch s.Type {
	case Flat:
		return s.Ratio.IsZero()
	case Tiered:
		for _, t := range s.Tiers {
			if !t.Rate.IsZero() {
				return false
			}
		}
	}
	return true
}

// String formats s in the form accepted by ParseSchedule.
func (s Schedule) String() string {
	switch s.Type {
	case Flat:
		return "flat:" + s.Ratio.String()
	case Tiered:
		parts := make([]string, len(s.Tiers))
		// stored ascending, as people write them
		for i, t := range s.Tiers {
			parts[len(s.Tiers)-1-i] = t.Start.String() + "@" + t.Rate.String()
		}
		return "tiered:" + strings.Join(parts, ",")
	default:
		return ""
	}
}

// scheduleRegex matches: flat:{ratio} or tiered:{start}@{rate}[,{start}@{rate}...]
// Examples: flat:0.2, tiered:0@0.1,0.2@0.2
var (
	scheduleRegex = regexp.MustCompile(`^(flat|tiered):(.+)$`)
	tierRegex     = regexp.MustCompile(`^([0-9]*\.?[0-9]+)@([0-9]*\.?[0-9]+)$`)
)

// NewTiered builds a tiered schedule, sorting tiers highest start first.
func NewTiered(tiers ...Tier) (Schedule, error) {
	if len(tiers) == 0 {
		return Schedule{}, fmt.Errorf("%w: no tiers", ErrInvalidSchedule)
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.GreaterThan(sorted[j].Start) })
	for i, t := range sorted {
		if t.Start.IsNegative() {
			return Schedule{}, fmt.Errorf("%w: negative tier start %s", ErrInvalidSchedule, t.Start)
		}
		if err := checkRate(t.Rate); err != nil {
			return Schedule{}, err
		}
		if i > 0 && t.Start.Equal(sorted[i-1].Start) {
			return Schedule{}, fmt.Errorf("%w: duplicate tier start %s", ErrInvalidSchedule, t.Start)
		}
	}
	return Schedule{Type: Tiered, Tiers: sorted}, nil
}

// NewFlat builds a flat schedule.
func NewFlat(ratio decimal.Decimal) (Schedule, error) {
	if err := checkRate(ratio); err != nil {
		return Schedule{}, err
	}
	return Schedule{Type: Flat, Ratio: ratio}, nil
}

// ParseSchedule parses a stored fee schedule.
// Format: flat:{ratio} | tiered:{start}@{rate},...
func ParseSchedule(s string) (Schedule, error) {
	matches := scheduleRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Schedule{}, fmt.Errorf("%w: %q (expected flat:{ratio} or tiered:{start}@{rate},...)", ErrInvalidSchedule, s)
	}
	body := matches[2]
	switch FeeType(matches[1]) {
	case Flat:
		ratio, err := decimal.NewFromString(body)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: ratio %q", ErrInvalidSchedule, body)
		}
		return NewFlat(ratio)
	default:
		var tiers []Tier
		for _, part := range strings.Split(body, ",") {
			m := tierRegex.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				return Schedule{}, fmt.Errorf("%w: tier %q", ErrInvalidSchedule, part)
			}
			tiers = append(tiers, Tier{
				Start: decimal.RequireFromString(m[1]),
				Rate:  decimal.RequireFromString(m[2]),
			})
		}
		return NewTiered(tiers...)
	}
}

func checkRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return fmt.Errorf("%w: rate %s outside [0, 1]", ErrInvalidSchedule, rate)
	}
	return nil
}
