package webhooks

import "hookline/internal/platform/config"

func DispatcherConfigFrom(c config.WebhooksConfig) DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	if c.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = c.MaxPayloadBytes
	}
	cfg.ResponseSnippetBytes = c.ResponseSnippetBytes
	if c.ClaimLease > 0 {
		cfg.ClaimLease = c.ClaimLease
	}
	if c.BackoffInitial > 0 {
		cfg.Backoff.Initial = c.BackoffInitial
	}
	if c.BackoffMax > 0 {
		cfg.Backoff.Max = c.BackoffMax
	}
	return cfg
}

func SchedulerConfigFrom(c config.WebhooksConfig) SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	if c.RetryPollInterval > 0 {
		cfg.PollInterval = c.RetryPollInterval
	}
	if c.RetryBatchSize > 0 {
		cfg.BatchSize = c.RetryBatchSize
	}
	if c.ClaimLease > 0 {
		cfg.ClaimLease = c.ClaimLease
	}
	return cfg
}
