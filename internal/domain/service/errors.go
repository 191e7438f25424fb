package service

import "errors"

// ErrDataUnavailable reports that the exchange returned no usable bars for
// the requested range. It is fatal to the current backtest or tick and is
// surfaced to the caller; the engine itself never retries.
var ErrDataUnavailable = errors.New("market data: no bars available")
