package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, baseDelayMs, maxDelayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, recoveryTimeoutSecs, successThreshold int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if recoveryTimeoutSecs > 0 {
		cfg.RecoveryTimeout = time.Duration(recoveryTimeoutSecs) * time.Second
	}
	if successThreshold > 0 {
		cfg.SuccessThreshold = successThreshold
	}
	return cfg
}

// FromGovernorConfig converts config values to a GovernorConfig.
func FromGovernorConfig(requestsPerMinute int, maxHourlyCost float64) GovernorConfig {
	cfg := DefaultGovernorConfig()
	if requestsPerMinute > 0 {
		cfg.RequestsPerMinute = requestsPerMinute
	}
	if maxHourlyCost > 0 {
		cfg.MaxHourlyCost = maxHourlyCost
	}
	return cfg
}
