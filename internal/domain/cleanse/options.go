package cleanse

import "github.com/okian/realmhist/pkg/logger"

// Option configures a Cleanser.
type Option func(*Cleanser)

// WithLimits sets the structural upper bounds. Non-positive values keep the default.
func WithLimits(l Limits) Option {
	return func(c *Cleanser) {
		if l.MaxTiles > 0 {
			c.limits.MaxTiles = l.MaxTiles
		}
		if l.MaxPlayers > 0 {
			c.limits.MaxPlayers = l.MaxPlayers
		}
		if l.MaxAlliances > 0 {
			c.limits.MaxAlliances = l.MaxAlliances
		}
	}
}

// WithSampleSize sets how many offending keys are included in anomaly logs.
func WithSampleSize(n int) Option {
	return func(c *Cleanser) {
		if n >= 0 {
			c.sampleSize = n
		}
	}
}

// WithLogger sets the cleanser logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cleanser) {
		if l != nil {
			c.log = l
		}
	}
}
