package models

// Requests for the backtest and monitor HTTP endpoints. Defined in domain
// for consistency and reuse.

type BacktestRequest struct {
	Symbol         string  `query:"symbol" json:"symbol" validate:"required"`
	Interval       string  `query:"interval" json:"interval" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Window         int     `query:"window" json:"window" default:"20" validate:"gte=1,lte=1000"`
	EntryThreshold float64 `query:"entry" json:"entry_threshold" default:"1.0" validate:"gt=0,lte=5"`
	ExitThreshold  float64 `query:"exit" json:"exit_threshold" default:"-1.0" validate:"gte=-5,lt=0"`
	Logic          string  `query:"logic" json:"logic" default:"trend" validate:"oneof=trend fast"`
	Side           string  `query:"side" json:"side" default:"both" validate:"oneof=long short both"`
	Days           int     `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
	From           string  `query:"from" json:"from,omitempty"`
	To             string  `query:"to" json:"to,omitempty"`
	IncludeRows    bool    `query:"include_rows" json:"include_rows"`
}

// Params maps the request to engine inputs.
func (r *BacktestRequest) Params() StrategyParams {
	return StrategyParams{
		Symbol:         r.Symbol,
		Interval:       r.Interval,
		Window:         r.Window,
		EntryThreshold: r.EntryThreshold,
		ExitThreshold:  r.ExitThreshold,
		Logic:          Logic(r.Logic),
		Side:           Side(r.Side),
	}
}

type SweepRequest struct {
	Symbol   string    `json:"symbol" validate:"required"`
	Interval string    `json:"interval" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Windows  []int     `json:"windows" validate:"required,min=1,max=20,dive,gte=1,lte=1000"`
	Entries  []float64 `json:"entries" validate:"required,min=1,max=10,dive,gt=0,lte=5"`
	Exits    []float64 `json:"exits" validate:"required,min=1,max=10,dive,gte=-5,lt=0"`
	Logic    string    `json:"logic" default:"trend" validate:"oneof=trend fast"`
	Side     string    `json:"side" default:"both" validate:"oneof=long short both"`
	Days     int       `json:"days" default:"30" validate:"gte=1,lte=365"`
	Top      int       `json:"top" default:"10" validate:"gte=1,lte=100"`
}

type MonitorStartRequest struct {
	Symbol         string  `json:"symbol" validate:"required"`
	Interval       string  `json:"interval" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	Window         int     `json:"window" default:"20" validate:"gte=1,lte=1000"`
	EntryThreshold float64 `json:"entry_threshold" default:"1.0" validate:"gt=0,lte=5"`
	ExitThreshold  float64 `json:"exit_threshold" default:"-1.0" validate:"gte=-5,lt=0"`
	Logic          string  `json:"logic" default:"trend" validate:"oneof=trend fast"`
	Side           string  `json:"side" default:"both" validate:"oneof=long short both"`
}

// Params maps the request to engine inputs.
func (r *MonitorStartRequest) Params() StrategyParams {
	return StrategyParams{
		Symbol:         r.Symbol,
		Interval:       r.Interval,
		Window:         r.Window,
		EntryThreshold: r.EntryThreshold,
		ExitThreshold:  r.ExitThreshold,
		Logic:          Logic(r.Logic),
		Side:           Side(r.Side),
	}
}
