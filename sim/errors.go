package sim

import "errors"

var (
	// ErrDataUnavailable means no replay-day candles exist at the
	// requested bar size or any of its fallbacks.
	ErrDataUnavailable = errors.New("no candles for replay day")

	// ErrInvariant marks a simulation state that should never occur,
	// such as a non-positive order quantity. It aborts the run. A
	// malformed candle is not one: it fails only its own candle.
	ErrInvariant = errors.New("simulation invariant violated")
)
