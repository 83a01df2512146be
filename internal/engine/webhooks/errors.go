package webhooks

import (
	"errors"

	"hookline/internal/platform/repositories"
)

var (
	ErrNotFound             = repositories.ErrNotFound
	ErrClaimLost            = repositories.ErrClaimLost
	ErrNotVerified          = errors.New("configuration_not_verified")
	ErrInactive             = errors.New("configuration_inactive")
	ErrVerificationFailed   = errors.New("webhooks: verification failed")
	ErrInvalidConfiguration = errors.New("webhooks: invalid configuration")
	ErrInvalidEvent         = errors.New("webhooks: invalid event")
	ErrNotRetryable         = errors.New("webhooks: delivery is not in a retryable state")
	ErrPoolClosed           = errors.New("webhooks: worker pool closed")
)
