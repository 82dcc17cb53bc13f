package reputation

import "time"

// Config carries every tunable of the reputation engine, mirroring the
// defaults table in the node's configuration spec.
type Config struct {
	ConfirmationThreshold   int           `mapstructure:"confirmation_threshold"`
	ConfirmationTimeout     time.Duration `mapstructure:"confirmation_timeout"`
	MaturityThreshold       int           `mapstructure:"maturity_threshold"`
	DecayHalfLifeDays       float64       `mapstructure:"decay_half_life_days"`
	RetentionPeriod         time.Duration `mapstructure:"retention_period"`
	MaxVerdictSize          int           `mapstructure:"max_verdict_size"`
	CacheTTL                time.Duration `mapstructure:"cache_ttl"`
	BlacklistMode           BlacklistMode `mapstructure:"blacklist_mode"`
	BlacklistScoreThreshold float64       `mapstructure:"blacklist_score_threshold"`
	BlacklistBadVerdicts    int           `mapstructure:"blacklist_bad_verdicts_threshold"`
	BlacklistRetention      time.Duration `mapstructure:"blacklist_retention"`
	PaymentDeadlineDefault  time.Duration `mapstructure:"payment_deadline_default"`
	PaymentGracePeriod      time.Duration `mapstructure:"payment_grace_period"`
	MinBalanceMultiplier    float64       `mapstructure:"min_balance_multiplier"`
	BlacklistAutoEnabled    bool          `mapstructure:"blacklist_auto_enabled"`
}

// DefaultConfig returns the spec's configuration defaults.
func DefaultConfig() Config {
	return Config{
		ConfirmationThreshold:   12,
		ConfirmationTimeout:     3600 * time.Second,
		MaturityThreshold:       100,
		DecayHalfLifeDays:       90,
		RetentionPeriod:         90 * 24 * time.Hour,
		MaxVerdictSize:          MaxDetailsSize,
		CacheTTL:                600 * time.Second,
		BlacklistMode:           ModeHybrid,
		BlacklistScoreThreshold: 0.2,
		BlacklistBadVerdicts:    3,
		BlacklistRetention:      30 * 24 * time.Hour,
		PaymentDeadlineDefault:  3600 * time.Second,
		PaymentGracePeriod:      1800 * time.Second,
		MinBalanceMultiplier:    1.2,
		BlacklistAutoEnabled:    true,
	}
}
