// Package provision creates or reuses the external resources of a
// deployment: repositories, compute services and DNS records. Every step
// is idempotent so a failed run can simply be repeated.
package provision

import (
	"log/slog"
	"time"

	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/retry"
)

// Platform labels used in logs and metrics.
const (
	PlatformSCM     = "scm"
	PlatformCompute = "compute"
	PlatformDNS     = "dns"
)

// retrier runs platform calls under a shared policy and reports retries.
type retrier struct {
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (r retrier) options(platform, op string) []retry.Option {
	return []retry.Option{
		retry.WithPolicy(r.policy),
		retry.WithNotify(func(err error, next time.Duration) {
			r.metrics.Retry(platform)
			r.logger.Warn("retrying platform call",
				"platform", platform,
				"op", op,
				"error", err,
				"next_in", next,
			)
		}),
	}
}

// withDefaults fills unset delay fields. MaxRetries is kept as given; zero
// means a single attempt.
func withDefaults(p retry.Policy) retry.Policy {
	def := retry.DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}
