package dedupe

// Option applies a configuration option to the deduper.
type Option func(*keySet)

// WithSampleSize sets how many duplicate keys are retained for logging.
// Values below zero are treated as zero.
func WithSampleSize(n int) Option {
	return func(d *keySet) {
		if n < 0 {
			n = 0
		}
		d.sampleSize = n
	}
}

// WithExpectedSize presizes the key set.
func WithExpectedSize(n int) Option {
	return func(d *keySet) {
		d.expected = n
	}
}
