package vault

import (
	"log/slog"
	"time"

	"github.com/jmcleod/wordvault/envelope"
)

// Option configures a Service.
type Option func(*Service)

// WithCodec sets the envelope codec. The codec's algorithm is used for new
// and re-encrypted fields.
func WithCodec(c *envelope.Codec) Option {
	return func(s *Service) {
		s.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}
