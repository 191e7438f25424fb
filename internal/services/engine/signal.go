package engine

import "ZWatch/internal/domain/models"

// Rules binds a logic/side pair and its z-score thresholds to the position
// step behavior. The same Step function drives the batch generator and the
// live trend-mode state machine, so the two paths can be tested for
// equivalence directly.
type Rules struct {
	Logic models.Logic
	Side  models.Side
	Entry float64
	Exit  float64

	step stepFunc
}

type stepFunc func(prev models.Position, z float64) models.Position

// NewRules builds the dispatch entry for the given combination. Threshold
// range validation is the caller's duty; the rules only guarantee the
// documented tie-break for overlapping thresholds.
func NewRules(logic models.Logic, side models.Side, entry, exit float64) Rules {
	r := Rules{Logic: logic, Side: side, Entry: entry, Exit: exit}
	r.step = r.resolveStep()
	return r
}

// FromParams builds Rules from strategy parameters.
func FromParams(p models.StrategyParams) Rules {
	return NewRules(p.Logic, p.Side, p.EntryThreshold, p.ExitThreshold)
}

// Step advances a position given a defined z-score.
func (r Rules) Step(prev models.Position, z float64) models.Position {
	return r.step(prev, z)
}

func (r Rules) resolveStep() stepFunc {
	if r.Logic == models.LogicFast {
		switch r.Side {
		case models.SideLong:
			return func(_ models.Position, z float64) models.Position {
				if z >= r.Entry {
					return models.PositionLong
				}
				return models.PositionFlat
			}
		case models.SideShort:
			return func(_ models.Position, z float64) models.Position {
				if z <= r.Exit {
					return models.PositionShort
				}
				return models.PositionFlat
			}
		default:
			return r.bothStep
		}
	}
	switch r.Side {
	case models.SideLong:
		return func(prev models.Position, z float64) models.Position {
			if z >= r.Entry {
				return models.PositionLong
			}
			if z <= r.Exit {
				return models.PositionFlat
			}
			return prev
		}
	case models.SideShort:
		return func(prev models.Position, z float64) models.Position {
			if z >= r.Entry {
				return models.PositionFlat
			}
			if z <= r.Exit {
				return models.PositionShort
			}
			return prev
		}
	default:
		return r.bothStep
	}
}

// bothStep serves trend/both and fast/both, which behave identically. The
// long branch assigns first and the short branch after, so a simultaneous
// trigger under misconfigured thresholds resolves short.
func (r Rules) bothStep(prev models.Position, z float64) models.Position {
	next := prev
	if z >= r.Entry {
		next = models.PositionLong
	}
	if z <= r.Exit {
		next = models.PositionShort
	}
	return next
}

func (r Rules) allowLong() bool {
	return r.Side == models.SideLong || r.Side == models.SideBoth
}

func (r Rules) allowShort() bool {
	return r.Side == models.SideShort || r.Side == models.SideBoth
}

// GenerateSignals forward-fills positions over a scored series: a scored
// bar applies the step rule, an unscored bar inherits the previous emitted
// position, and index 0 defaults to flat.
func GenerateSignals(bars []models.ScoredBar, r Rules) []models.PositionedBar {
	out := make([]models.PositionedBar, 0, len(bars))
	pos := models.PositionFlat
	for _, b := range bars {
		if b.Scored {
			pos = r.Step(pos, b.ZScore)
		}
		out = append(out, models.PositionedBar{ScoredBar: b, Position: pos})
	}
	return out
}
