package config

// PricingConfig carries the discount defaults used by the pricing engine.
// FullDayDiscountCents is the default amount subtracted from an afternoon
// line that completes a full day; a variant may override it.  SiblingRate is
// the multiplier applied to a sibling's line when no paired discount price
// exists.  SiblingTier names the discount tier that is paired with the full
// price in the catalog.
type PricingConfig struct {
	FullDayDiscountCents int64
	SiblingRate          float64
	SiblingTier          string
}

// ValidationConfig bounds the child ages accepted at checkout.
type ValidationConfig struct {
	MinAge float64
	MaxAge float64
}

// DefaultPricingConfig returns the discount rules used when no environment
// overrides are present.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		FullDayDiscountCents: 10000,
		SiblingRate:          0.9,
		SiblingTier:          "disc10",
	}
}

// LoadPricingConfig reads pricing overrides from the environment.
func LoadPricingConfig() PricingConfig {
	def := DefaultPricingConfig()
	cfg := PricingConfig{
		FullDayDiscountCents: int64(envInt("FULL_DAY_DISCOUNT_CENTS", int(def.FullDayDiscountCents))),
		SiblingRate:          envFloat("SIBLING_RATE", def.SiblingRate),
		SiblingTier:          envStr("SIBLING_TIER", def.SiblingTier),
	}
	if cfg.FullDayDiscountCents < 0 { cfg.FullDayDiscountCents = 0 }
	if cfg.SiblingRate <= 0 || cfg.SiblingRate > 1 { cfg.SiblingRate = def.SiblingRate }
	return cfg
}

// DefaultValidationConfig accepts children aged 6 to 18.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{MinAge: 6, MaxAge: 18}
}

// LoadValidationConfig reads the age bounds from the environment.
func LoadValidationConfig() ValidationConfig {
	def := DefaultValidationConfig()
	return ValidationConfig{
		MinAge: envFloat("MIN_CHILD_AGE", def.MinAge),
		MaxAge: envFloat("MAX_CHILD_AGE", def.MaxAge),
	}
}
