package goldarb

import (
	"strconv"

	"github.com/alimogh/trdk/internal/domain"
)

// Config is the typed parameter set of the ratio arbitrage strategy.
// Every option is enumerated here with an explicit default; unknown keys
// in the wiring section are rejected at construction.
type Config struct {
	// LegA and LegB are the two correlated instruments. The spread is
	// quoted as legA price over legB price.
	LegA string
	LegB string

	// EntryRatioShortA opens short-A/long-B when legA ask over legB bid
	// exceeds it. EntryRatioLongA opens long-A/short-B when legA bid
	// over legB ask drops below it. The tolerances widen each threshold
	// independently so the two branches do not oscillate around a shared
	// boundary.
	EntryRatioShortA     float64
	EntryRatioLongA      float64
	EntryToleranceShortA float64
	EntryToleranceLongA  float64

	// ExitRatio closes a branch when its ratio reverts to it, within
	// ExitTolerance.
	ExitRatio     float64
	ExitTolerance float64

	// NotionalPerLeg sizes each leg independently: quantity is the
	// notional divided by the leg's current price, rounded down to the
	// instrument's round lot.
	NotionalPerLeg float64
}

// DefaultConfig returns the GLD/DGL parameters the strategy shipped with.
func DefaultConfig() Config {
	return Config{
		LegA:             "GLD",
		LegB:             "DGL",
		EntryRatioShortA: 2.850,
		EntryRatioLongA:  2.842,
		ExitRatio:        2.847,
		ExitTolerance:    0.0005,
		NotionalPerLeg:   10000,
	}
}

// ParseConfig overlays raw wiring parameters onto the defaults. Unknown
// keys and unparseable values fail with a ConfigError.
func ParseConfig(params map[string]string) (Config, error) {
	cfg := DefaultConfig()
	for key, value := range params {
		var err error
		switch key {
		case "leg_a":
			cfg.LegA = value
		case "leg_b":
			cfg.LegB = value
		case "entry_ratio_short_a":
			cfg.EntryRatioShortA, err = parseFloat(key, value)
		case "entry_ratio_long_a":
			cfg.EntryRatioLongA, err = parseFloat(key, value)
		case "entry_tolerance_short_a":
			cfg.EntryToleranceShortA, err = parseFloat(key, value)
		case "entry_tolerance_long_a":
			cfg.EntryToleranceLongA, err = parseFloat(key, value)
		case "exit_ratio":
			cfg.ExitRatio, err = parseFloat(key, value)
		case "exit_tolerance":
			cfg.ExitTolerance, err = parseFloat(key, value)
		case "notional_per_leg":
			cfg.NotionalPerLeg, err = parseFloat(key, value)
		default:
			return Config{}, domain.NewConfigError("unknown parameter %q", key)
		}
		if err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.LegA == "" || c.LegB == "" || c.LegA == c.LegB {
		return domain.NewConfigError("legs must name two distinct symbols, got %q and %q", c.LegA, c.LegB)
	}
	if c.EntryRatioShortA <= 0 || c.EntryRatioLongA <= 0 || c.ExitRatio <= 0 {
		return domain.NewConfigError("entry and exit ratios must be positive")
	}
	if c.EntryRatioLongA >= c.EntryRatioShortA {
		return domain.NewConfigError(
			"entry_ratio_long_a %.4f must be below entry_ratio_short_a %.4f",
			c.EntryRatioLongA, c.EntryRatioShortA)
	}
	if c.EntryToleranceShortA < 0 || c.EntryToleranceLongA < 0 || c.ExitTolerance < 0 {
		return domain.NewConfigError("tolerances must not be negative")
	}
	if c.NotionalPerLeg <= 0 {
		return domain.NewConfigError("notional_per_leg must be positive, got %.2f", c.NotionalPerLeg)
	}
	return nil
}

// shortAThreshold is the effective short-A entry boundary after applying
// its tolerance band.
func (c Config) shortAThreshold() float64 {
	return c.EntryRatioShortA * (1 + c.EntryToleranceShortA)
}

// longAThreshold is the effective long-A entry boundary after applying
// its tolerance band.
func (c Config) longAThreshold() float64 {
	return c.EntryRatioLongA * (1 - c.EntryToleranceLongA)
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, domain.NewConfigError("parameter %q: invalid number %q", key, value)
	}
	return f, nil
}
