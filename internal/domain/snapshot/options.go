package snapshot

import "github.com/okian/realmhist/pkg/logger"

// Option configures a Parser.
type Option func(*Parser)

// WithMapSize sets the exclusive coordinate bounds.
func WithMapSize(width, height int) Option {
	return func(p *Parser) {
		if width > 0 {
			p.width = width
		}
		if height > 0 {
			p.height = height
		}
	}
}

// WithMaxNameLength caps text fields, counted in runes.
func WithMaxNameLength(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxNameLength = n
		}
	}
}

// WithLogger sets the parser logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.log = l
		}
	}
}
