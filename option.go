package facilitator

import (
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.rec = r
	}
}

// WithTimeout bounds each verify or settle call. Confirmation bookkeeping
// after a broadcast is exempt; it always runs to completion.
func WithTimeout(t time.Duration) Option {
	return func(f *Facilitator) {
		f.timeout = t
	}
}
