package domain

import (
	"fmt"
	"time"
)

// FeePolicy selects which fee rate applies to a leg.
type FeePolicy string

const (
	// FeePolicyTaker charges the taker rate on every leg.
	FeePolicyTaker FeePolicy = "taker"
	// FeePolicyMakerEligible charges the maker rate on pairs whose exchange
	// info allows post-only orders, taker otherwise.
	FeePolicyMakerEligible FeePolicy = "maker_eligible"
)

// LiveTradingConfig holds the operator-set parameters read by the detector
// and risk manager. It is mutated only through explicit configuration
// updates on the engine.
type LiveTradingConfig struct {
	Enabled          bool       `json:"enabled"`
	TradeAmount      float64    `json:"trade_amount"`
	MinProfitPct     float64    `json:"min_profit_pct"`
	MaxDailyLoss     float64    `json:"max_daily_loss"`
	MaxTotalLoss     float64    `json:"max_total_loss"`
	StartCurrencies  []Currency `json:"start_currencies"`
	MaxPathLegs      int        `json:"max_path_legs"`
	MaxPairs         int        `json:"max_pairs"`
	MinPairVolume24h float64    `json:"min_pair_volume_24h"`
	MaxOrderMin      float64    `json:"max_order_min"`
	TakerFeeRate     float64    `json:"taker_fee_rate"`
	MakerFeeRate     float64    `json:"maker_fee_rate"`
	FeePolicy        FeePolicy  `json:"fee_policy"`
	MaxQuoteAge      time.Duration `json:"max_quote_age"`
	ScanInterval     time.Duration `json:"scan_interval"`
	LegTimeout       time.Duration `json:"leg_timeout"`
	MaxResolutionAttempts int     `json:"max_resolution_attempts"`
	EnabledAt        *time.Time `json:"enabled_at"`
	DisabledAt       *time.Time `json:"disabled_at"`
}

// FeeRate returns the fee applied to a leg on the given pair under the
// configured policy.
func (c LiveTradingConfig) FeeRate(makerEligible bool) float64 {
	if c.FeePolicy == FeePolicyMakerEligible && makerEligible {
		return c.MakerFeeRate
	}
	return c.TakerFeeRate
}

// Validate reports the first problem that would make live execution unsafe.
// The risk manager refuses every approval while this returns non-nil.
func (c LiveTradingConfig) Validate() error {
	if c.TradeAmount <= 0 {
		return fmt.Errorf("%w: trade_amount must be positive", ErrInvalidConfig)
	}
	if c.MinProfitPct < 0 {
		return fmt.Errorf("%w: min_profit_pct must not be negative", ErrInvalidConfig)
	}
	if c.MaxDailyLoss <= 0 || c.MaxTotalLoss <= 0 {
		return fmt.Errorf("%w: loss limits must be positive", ErrInvalidConfig)
	}
	if c.MaxTotalLoss < c.MaxDailyLoss {
		return fmt.Errorf("%w: max_total_loss below max_daily_loss", ErrInvalidConfig)
	}
	if len(c.StartCurrencies) == 0 {
		return fmt.Errorf("%w: at least one start currency required", ErrInvalidConfig)
	}
	if c.MaxPathLegs < 2 {
		return fmt.Errorf("%w: max_path_legs must be at least 2", ErrInvalidConfig)
	}
	if c.TakerFeeRate < 0 || c.TakerFeeRate >= 1 || c.MakerFeeRate < 0 || c.MakerFeeRate >= 1 {
		return fmt.Errorf("%w: fee rates must be in [0,1)", ErrInvalidConfig)
	}
	switch c.FeePolicy {
	case FeePolicyTaker, FeePolicyMakerEligible:
	default:
		return fmt.Errorf("%w: unknown fee policy %q", ErrInvalidConfig, c.FeePolicy)
	}
	if c.LegTimeout <= 0 {
		return fmt.Errorf("%w: leg_timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxResolutionAttempts < 1 {
		return fmt.Errorf("%w: max_resolution_attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch is a partial configuration update; nil fields are left
// unchanged.
type ConfigPatch struct {
	Enabled          *bool       `json:"enabled,omitempty"`
	TradeAmount      *float64    `json:"trade_amount,omitempty"`
	MinProfitPct     *float64    `json:"min_profit_pct,omitempty"`
	MaxDailyLoss     *float64    `json:"max_daily_loss,omitempty"`
	MaxTotalLoss     *float64    `json:"max_total_loss,omitempty"`
	StartCurrencies  []Currency  `json:"start_currencies,omitempty"`
	MaxPathLegs      *int        `json:"max_path_legs,omitempty"`
	MaxPairs         *int        `json:"max_pairs,omitempty"`
	MinPairVolume24h *float64    `json:"min_pair_volume_24h,omitempty"`
	MaxOrderMin      *float64    `json:"max_order_min,omitempty"`
	FeePolicy        *FeePolicy  `json:"fee_policy,omitempty"`
}

// Apply merges the patch into a copy of cfg and stamps the enable/disable
// transition timestamps.
func (p ConfigPatch) Apply(cfg LiveTradingConfig, now time.Time) LiveTradingConfig {
	out := cfg
	if p.Enabled != nil && *p.Enabled != cfg.Enabled {
		out.Enabled = *p.Enabled
		ts := now
		if *p.Enabled {
			out.EnabledAt = &ts
		} else {
			out.DisabledAt = &ts
		}
	}
	if p.TradeAmount != nil {
		out.TradeAmount = *p.TradeAmount
	}
	if p.MinProfitPct != nil {
		out.MinProfitPct = *p.MinProfitPct
	}
	if p.MaxDailyLoss != nil {
		out.MaxDailyLoss = *p.MaxDailyLoss
	}
	if p.MaxTotalLoss != nil {
		out.MaxTotalLoss = *p.MaxTotalLoss
	}
	if len(p.StartCurrencies) > 0 {
		out.StartCurrencies = append([]Currency(nil), p.StartCurrencies...)
	}
	if p.MaxPathLegs != nil {
		out.MaxPathLegs = *p.MaxPathLegs
	}
	if p.MaxPairs != nil {
		out.MaxPairs = *p.MaxPairs
	}
	if p.MinPairVolume24h != nil {
		out.MinPairVolume24h = *p.MinPairVolume24h
	}
	if p.MaxOrderMin != nil {
		out.MaxOrderMin = *p.MaxOrderMin
	}
	if p.FeePolicy != nil {
		out.FeePolicy = *p.FeePolicy
	}
	return out
}
