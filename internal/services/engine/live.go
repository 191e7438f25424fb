package engine

import "ZWatch/internal/domain/models"

// LiveStep advances a live session position for one newly closed bar.
// Trend mode reuses the batch step rule unchanged. Fast mode applies four
// sub-rules in fixed priority order — close short when z re-crosses above
// the exit level, close long when z re-crosses below the entry level, open
// long on an entry cross, open short on an exit cross — each guarded by
// side eligibility. Each sub-rule sees the state left by the previous one,
// so an eligible both-side flip closes and reopens within the same bar.
func (r Rules) LiveStep(prev models.Position, z float64) models.Position {
	if r.Logic != models.LogicFast {
		return r.Step(prev, z)
	}
	pos := prev
	if r.allowShort() && pos == models.PositionShort && z > r.Exit {
		pos = models.PositionFlat
	}
	if r.allowLong() && pos == models.PositionLong && z < r.Entry {
		pos = models.PositionFlat
	}
	if r.allowLong() && pos == models.PositionFlat && z >= r.Entry {
		pos = models.PositionLong
	}
	if r.allowShort() && pos == models.PositionFlat && z <= r.Exit {
		pos = models.PositionShort
	}
	return pos
}
