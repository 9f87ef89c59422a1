package resilience

import (
	"time"

	"github.com/sells-group/gridclimate/internal/config"
)

// FromFetchConfig derives the retry policy and breaker settings for provider
// calls.
func FromFetchConfig(cfg config.FetchConfig) (RetryConfig, BreakerConfig) {
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.InitialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		retry.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}

	breaker := DefaultBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		breaker.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(cfg.BreakerResetSecs) * time.Second
	}
	return retry, breaker
}
