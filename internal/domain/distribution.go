package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AmountType says how a rule or bonus amount is interpreted
type AmountType string

const (
	AmountPercentage AmountType = "percentage"
	AmountFixed      AmountType = "fixed"
)

// DistributionType is the overall payout mode of a config
type DistributionType string

const (
	DistributionPercentage DistributionType = "percentage"
	DistributionFixed      DistributionType = "fixed"
	DistributionHybrid     DistributionType = "hybrid"
)

// RakeType says how the house cut is computed
type RakeType string

const (
	RakePercentage  RakeType = "percentage"
	RakeFixed       RakeType = "fixed"
	RakeProgressive RakeType = "progressive"
)

// TargetKind discriminates the rule target variants
type TargetKind uint8

const (
	TargetPosition TargetKind = iota + 1
	TargetRange
	TargetTopPercent
)

// RuleTarget selects which ranks a distribution rule applies to. Exactly one
// variant is chosen at construction; the zero value is invalid.
type RuleTarget struct {
	kind       TargetKind
	position   int
	start, end int
	topPercent float64
}

// PositionTarget targets a single rank (1-based).
func PositionTarget(position int) (RuleTarget, error) {
	if position < 1 {
		return RuleTarget{}, fmt.Errorf("%w: position must be >= 1, got %d", ErrInvalidRule, position)
	}
	return RuleTarget{kind: TargetPosition, position: position}, nil
}

// RangeTarget targets an inclusive rank range [start, end].
func RangeTarget(start, end int) (RuleTarget, error) {
	if start < 1 || end < start {
		return RuleTarget{}, fmt.Errorf("%w: range [%d,%d] is not a valid rank range", ErrInvalidRule, start, end)
	}
	return RuleTarget{kind: TargetRange, start: start, end: end}, nil
}

// TopPercentTarget targets the top percentage of the leaderboard.
func TopPercentTarget(percent float64) (RuleTarget, error) {
	if percent <= 0 || percent > 100 {
		return RuleTarget{}, fmt.Errorf("%w: top percent must be in (0,100], got %v", ErrInvalidRule, percent)
	}
	return RuleTarget{kind: TargetTopPercent, topPercent: percent}, nil
}

// Kind returns the selected target variant
func (t RuleTarget) Kind() TargetKind { return t.kind }

// Position returns the targeted rank for a position target
func (t RuleTarget) Position() int { return t.position }

// Range returns the inclusive rank bounds for a range target
func (t RuleTarget) Range() (start, end int) { return t.start, t.end }

// TopPercent returns the percentage for a top-percent target
func (t RuleTarget) TopPercent() float64 { return t.topPercent }

// DistributionRule is one clause of a payout configuration. Split divides
// the amount evenly across targeted ranks instead of paying each rank the
// full amount; top-percent targets always split. Bonus is an optional
// additive adjustment applied before flooring.
type DistributionRule struct {
	Target    RuleTarget
	Amount    float64
	Type      AmountType
	Split     bool
	Bonus     float64
	BonusType AmountType
}

// ruleJSON is the wire shape of a rule: the target variant is expressed as
// exactly one of the optional position/range/top_percent fields.
type ruleJSON struct {
	Position   *int       `json:"position,omitempty"`
	Range      *[2]int    `json:"range,omitempty"`
	TopPercent *float64   `json:"top_percent,omitempty"`
	Amount     float64    `json:"amount"`
	Type       AmountType `json:"type,omitempty"`
	Split      bool       `json:"split,omitempty"`
	Bonus      float64    `json:"bonus,omitempty"`
	BonusType  AmountType `json:"bonus_type,omitempty"`
}

// MarshalJSON flattens the target variant into the stored wire shape
func (r DistributionRule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		Amount:    r.Amount,
		Type:      r.Type,
		Split:     r.Split,
		Bonus:     r.Bonus,
		BonusType: r.BonusType,
	}
	switch r.Target.kind {
	case TargetPosition:
		p := r.Target.position
		out.Position = &p
	case TargetRange:
		rng := [2]int{r.Target.start, r.Target.end}
		out.Range = &rng
	case TargetTopPercent:
		tp := r.Target.topPercent
		out.TopPercent = &tp
	default:
		return nil, fmt.Errorf("%w: rule has no target", ErrInvalidRule)
	}
	return json.Marshal(out)
}

// UnmarshalJSON enforces that exactly one target variant is present
func (r *DistributionRule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	set := 0
	if raw.Position != nil {
		set++
	}
	if raw.Range != nil {
		set++
	}
	if raw.TopPercent != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: rule must target exactly one of position, range or top_percent (got %d)", ErrInvalidRule, set)
	}

	var (
		target RuleTarget
		err    error
	)
	switch {
	case raw.Position != nil:
		target, err = PositionTarget(*raw.Position)
	case raw.Range != nil:
		target, err = RangeTarget(raw.Range[0], raw.Range[1])
	default:
		target, err = TopPercentTarget(*raw.TopPercent)
	}
	if err != nil {
		return err
	}

	r.Target = target
	r.Amount = raw.Amount
	r.Type = raw.Type
	r.Split = raw.Split
	r.Bonus = raw.Bonus
	r.BonusType = raw.BonusType
	return nil
}

// RakeTier is one bracket of a progressive rake schedule. A nil Max denotes
// the open-ended top tier. Tiers must be ordered by Min and non-overlapping.
type RakeTier struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max"`
	Rate float64  `json:"rate"`
}

// DistributionConfig is the full settlement policy for a period
type DistributionConfig struct {
	Type                 DistributionType   `json:"type"`
	Rules                []DistributionRule `json:"rules"`
	Rake                 float64            `json:"rake,omitempty"`
	RakeType             RakeType           `json:"rake_type,omitempty"`
	RakeTiers            []RakeTier         `json:"rake_tiers,omitempty"`
	MinimumPot           float64            `json:"minimum_pot,omitempty"`
	MinimumPlayers       int                `json:"minimum_players,omitempty"`
	MaximumPayout        int64              `json:"maximum_payout,omitempty"`
	SponsorFund          float64            `json:"sponsor_fund,omitempty"`
	RefundOnInsufficient bool               `json:"refund_on_insufficient"`
}

// ValidationError aggregates every violation found in a config so authoring
// tools can surface all problems at once instead of the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid distribution config: %s", strings.Join(e.Problems, "; "))
}

// RuleType resolves a rule's effective amount type, falling back to the
// config-level type (hybrid configs default unspecified rules to percentage).
func (c *DistributionConfig) RuleType(r DistributionRule) AmountType {
	if r.Type != "" {
		return r.Type
	}
	if c.Type == DistributionFixed {
		return AmountFixed
	}
	return AmountPercentage
}

// Validate performs static validation of the settlement policy. It returns
// nil when the config is valid, otherwise a *ValidationError listing every
// violation found.
func (c *DistributionConfig) Validate() error {
	var problems []string

	if len(c.Rules) == 0 {
		problems = append(problems, "config must contain at least one rule")
	}

	switch c.Type {
	case DistributionPercentage, DistributionFixed, DistributionHybrid:
	default:
		problems = append(problems, fmt.Sprintf("unknown distribution type %q", c.Type))
	}

	if c.Rake < 0 {
		problems = append(problems, "rake must not be negative")
	}
	if c.RakeType == RakePercentage && c.Rake > 100 {
		problems = append(problems, fmt.Sprintf("percentage rake %v exceeds 100", c.Rake))
	}
	problems = append(problems, c.validateRakeTiers()...)

	for i, rule := range c.Rules {
		if rule.Target.kind == 0 {
			problems = append(problems, fmt.Sprintf("rule %d has no target", i))
		}
		if rule.Amount < 0 {
			problems = append(problems, fmt.Sprintf("rule %d has a negative amount", i))
		}
	}

	problems = append(problems, c.validateOverlaps()...)

	// Percentage budget: split-range and top-percent rules are excluded
	// because their per-player share depends on runtime participant count.
	// A non-split range pays its amount to every rank in the range, so its
	// statically-known width multiplies into the budget.
	if c.Type == DistributionPercentage {
		total := 0.0
		if c.RakeType == RakePercentage {
			total += c.Rake
		}
		for _, rule := range c.Rules {
			if c.RuleType(rule) != AmountPercentage {
				continue
			}
			switch rule.Target.kind {
			case TargetPosition:
				total += rule.Amount
			case TargetRange:
				if !rule.Split {
					total += rule.Amount * float64(rule.Target.end-rule.Target.start+1)
				}
			}
		}
		if total > 100 {
			problems = append(problems, fmt.Sprintf("percentage rules plus rake sum to %v, exceeding 100", total))
		}
	}

	// Fixed prizes must be backed by the sponsor fund (0 when unset).
	if c.Type == DistributionFixed {
		total := 0.0
		for _, rule := range c.Rules {
			if c.RuleType(rule) != AmountFixed {
				continue
			}
			switch rule.Target.kind {
			case TargetPosition:
				total += rule.Amount
			case TargetRange:
				if !rule.Split {
					total += rule.Amount * float64(rule.Target.end-rule.Target.start+1)
				}
			}
		}
		if total > c.SponsorFund {
			problems = append(problems, fmt.Sprintf("fixed prizes total %v, exceeding sponsor fund %v", total, c.SponsorFund))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// validateOverlaps checks that no rank can be claimed by two rules through
// static targets: duplicate positions, overlapping ranges, or a position
// falling inside a range.
func (c *DistributionConfig) validateOverlaps() []string {
	var problems []string

	positions := make(map[int]bool)
	type span struct{ start, end int }
	var ranges []span

	for _, rule := range c.Rules {
		switch rule.Target.kind {
		case TargetPosition:
			p := rule.Target.position
			if positions[p] {
				problems = append(problems, fmt.Sprintf("position %d is targeted by more than one rule", p))
			}
			positions[p] = true
		case TargetRange:
			ranges = append(ranges, span{rule.Target.start, rule.Target.end})
		}
	}

	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].start <= ranges[j].end && ranges[j].start <= ranges[i].end {
				problems = append(problems, fmt.Sprintf("ranges [%d,%d] and [%d,%d] overlap",
					ranges[i].start, ranges[i].end, ranges[j].start, ranges[j].end))
			}
		}
	}

	for p := range positions {
		for _, r := range ranges {
			if p >= r.start && p <= r.end {
				problems = append(problems, fmt.Sprintf("position %d falls inside range [%d,%d]", p, r.start, r.end))
			}
		}
	}

	sort.Strings(problems)
	return problems
}

func (c *DistributionConfig) validateRakeTiers() []string {
	var problems []string
	for i, tier := range c.RakeTiers {
		if tier.Rate < 0 || tier.Rate > 100 {
			problems = append(problems, fmt.Sprintf("rake tier %d has rate %v outside [0,100]", i, tier.Rate))
		}
		if tier.Max != nil && *tier.Max < tier.Min {
			problems = append(problems, fmt.Sprintf("rake tier %d has max %v below min %v", i, *tier.Max, tier.Min))
		}
		if i == 0 {
			continue
		}
		prev := c.RakeTiers[i-1]
		if tier.Min < prev.Min {
			problems = append(problems, fmt.Sprintf("rake tier %d is not ordered by min", i))
		}
		if prev.Max == nil {
			problems = append(problems, fmt.Sprintf("rake tier %d follows an open-ended tier", i))
		} else if tier.Min < *prev.Max {
			problems = append(problems, fmt.Sprintf("rake tiers %d and %d overlap", i-1, i))
		}
	}
	return problems
}

// Clone returns a deep copy, so callers can start from a template and mutate
// without touching the original.
func (c *DistributionConfig) Clone() *DistributionConfig {
	out := *c
	out.Rules = make([]DistributionRule, len(c.Rules))
	copy(out.Rules, c.Rules)
	out.RakeTiers = make([]RakeTier, len(c.RakeTiers))
	for i, tier := range c.RakeTiers {
		out.RakeTiers[i] = tier
		if tier.Max != nil {
			max := *tier.Max
			out.RakeTiers[i].Max = &max
		}
	}
	return &out
}

// Distribution templates
const (
	TemplateStandard       = "standard"
	TemplateWinnerTakesAll = "winner_takes_all"
	TemplateTopHeavy       = "top_heavy"
	TemplateParticipation  = "participation"
)

// Template returns a fresh copy of a named default settlement policy.
// Templates are immutable starting points; every call constructs a new
// value.
func Template(name string) (*DistributionConfig, error) {
	switch name {
	case TemplateStandard:
		return &DistributionConfig{
			Type: DistributionPercentage,
			Rules: []DistributionRule{
				{Target: mustPosition(1), Amount: 40, Type: AmountPercentage},
				{Target: mustPosition(2), Amount: 25, Type: AmountPercentage},
				{Target: mustPosition(3), Amount: 15, Type: AmountPercentage},
			},
			RakeType:             RakePercentage,
			RefundOnInsufficient: true,
		}, nil
	case TemplateWinnerTakesAll:
		return &DistributionConfig{
			Type: DistributionPercentage,
			Rules: []DistributionRule{
				{Target: mustPosition(1), Amount: 100, Type: AmountPercentage},
			},
			RakeType:             RakePercentage,
			RefundOnInsufficient: true,
		}, nil
	case TemplateTopHeavy:
		return &DistributionConfig{
			Type: DistributionPercentage,
			Rules: []DistributionRule{
				{Target: mustPosition(1), Amount: 50, Type: AmountPercentage},
				{Target: mustPosition(2), Amount: 30, Type: AmountPercentage},
				{Target: mustPosition(3), Amount: 12, Type: AmountPercentage},
			},
			Rake:                 5,
			RakeType:             RakePercentage,
			RefundOnInsufficient: true,
		}, nil
	case TemplateParticipation:
		return &DistributionConfig{
			Type: DistributionPercentage,
			Rules: []DistributionRule{
				{Target: mustPosition(1), Amount: 25, Type: AmountPercentage},
				{Target: mustPosition(2), Amount: 15, Type: AmountPercentage},
				{Target: mustPosition(3), Amount: 10, Type: AmountPercentage},
				{Target: mustTopPercent(100), Amount: 45, Type: AmountPercentage, Split: true},
			},
			Rake:                 5,
			RakeType:             RakePercentage,
			RefundOnInsufficient: true,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
}

// TemplateNames lists the available default templates
func TemplateNames() []string {
	return []string{TemplateStandard, TemplateWinnerTakesAll, TemplateTopHeavy, TemplateParticipation}
}

func mustPosition(p int) RuleTarget {
	t, err := PositionTarget(p)
	if err != nil {
		panic(err)
	}
	return t
}

func mustTopPercent(pct float64) RuleTarget {
	t, err := TopPercentTarget(pct)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseDistribution decodes a stored settlement policy. It accepts both the
// current config shape and the legacy place map ({"1st": 40, "2nd": 25,
// "3rd": 15}) still present on older period records, upconverting the latter
// through FromLegacyPlaces. This is the single source of truth for legacy
// compatibility.
func ParseDistribution(data []byte) (*DistributionConfig, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing distribution config: %w", err)
	}

	if _, ok := probe["rules"]; ok {
		var cfg DistributionConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing distribution config: %w", err)
		}
		if cfg.Type == "" {
			cfg.Type = DistributionPercentage
		}
		if cfg.RakeType == "" {
			cfg.RakeType = RakePercentage
		}
		return &cfg, nil
	}

	var legacy map[string]float64
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parsing legacy distribution map: %w", err)
	}
	return FromLegacyPlaces(legacy)
}

// FromLegacyPlaces upconverts the legacy ordinal percentage map into a
// modern config with one position rule per place and no rake.
func FromLegacyPlaces(places map[string]float64) (*DistributionConfig, error) {
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: legacy distribution map is empty", ErrInvalidRule)
	}

	type place struct {
		position int
		percent  float64
	}
	parsed := make([]place, 0, len(places))
	for ordinal, percent := range places {
		position, err := parseOrdinal(ordinal)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, place{position, percent})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].position < parsed[j].position })

	rules := make([]DistributionRule, len(parsed))
	for i, p := range parsed {
		target, err := PositionTarget(p.position)
		if err != nil {
			return nil, err
		}
		rules[i] = DistributionRule{Target: target, Amount: p.percent, Type: AmountPercentage}
	}

	return &DistributionConfig{
		Type:                 DistributionPercentage,
		Rules:                rules,
		RakeType:             RakePercentage,
		RefundOnInsufficient: true,
	}, nil
}

// parseOrdinal turns "1st", "2nd", "3rd", "4th"... into a rank
func parseOrdinal(s string) (int, error) {
	trimmed := strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "stndrh")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a place ordinal", ErrInvalidRule, s)
	}
	return n, nil
}
