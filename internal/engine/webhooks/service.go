package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	urlcheck "hookline/internal/pkg/validator"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/models"
)

const (
	DefaultTimeoutSeconds = 30
	DefaultMaxRetries     = 3
)

type CreateConfigurationInput struct {
	CallbackURL      string            `json:"callback_url" validate:"required,http_url,callback_url,max=2048"`
	SubscribedEvents []string          `json:"subscribed_events" validate:"omitempty,max=100,dive,required,max=128"`
	Platform         string            `json:"platform" validate:"max=64"`
	TimeoutSeconds   *int              `json:"timeout_seconds" validate:"omitempty,min=5,max=60"`
	MaxRetries       *int              `json:"max_retries" validate:"omitempty,min=0,max=10"`
	CustomHeaders    map[string]string `json:"custom_headers" validate:"omitempty,max=20,dive,keys,required,max=128,endkeys,max=1024"`
}

// UpdateConfigurationInput applies only the fields that are set. A nil
// slice or map leaves the field alone; an empty one clears it.
type UpdateConfigurationInput struct {
	CallbackURL      *string           `json:"callback_url" validate:"omitempty,http_url,callback_url,max=2048"`
	SubscribedEvents []string          `json:"subscribed_events" validate:"omitempty,max=100,dive,required,max=128"`
	Platform         *string           `json:"platform" validate:"omitempty,max=64"`
	TimeoutSeconds   *int              `json:"timeout_seconds" validate:"omitempty,min=5,max=60"`
	MaxRetries       *int              `json:"max_retries" validate:"omitempty,min=0,max=10"`
	CustomHeaders    map[string]string `json:"custom_headers" validate:"omitempty,max=20,dive,keys,required,max=128,endkeys,max=1024"`
}

// Service is the call surface used by the API and by collaborators that
// emit events.
type Service struct {
	configs    ConfigurationStore
	logs       DeliveryLogStore
	dispatcher *Dispatcher
	verifier   *Verifier
	metrics    *metrics.Metrics
	validate   *validator.Validate
	now        func() time.Time
}

func NewService(configs ConfigurationStore, logs DeliveryLogStore, dispatcher *Dispatcher, verifier *Verifier, m *metrics.Metrics) *Service {
	return &Service{
		configs:    configs,
		logs:       logs,
		dispatcher: dispatcher,
		verifier:   verifier,
		metrics:    m,
		validate:   newValidate(),
		now:        time.Now,
	}
}

func newValidate() *validator.Validate {
	v := validator.New()
	if err := urlcheck.Register(v); err != nil {
		panic(err)
	}
	return v
}

func (s *Service) invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
}

func (s *Service) CreateConfiguration(ctx context.Context, orgID string, in CreateConfigurationInput) (*models.WebhookConfiguration, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, s.invalid(err)
	}

	token, err := newVerifyToken()
	if err != nil {
		return nil, err
	}
	secret, err := newSecretKey()
	if err != nil {
		return nil, err
	}

	c := &models.WebhookConfiguration{
		OrganizationID:   orgID,
		CallbackURL:      in.CallbackURL,
		VerifyToken:      token,
		SecretKey:        secret,
		SubscribedEvents: in.SubscribedEvents,
		Platform:         in.Platform,
		TimeoutSeconds:   DefaultTimeoutSeconds,
		MaxRetries:       DefaultMaxRetries,
		CustomHeaders:    in.CustomHeaders,
	}
	if in.TimeoutSeconds != nil {
		c.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.MaxRetries != nil {
		c.MaxRetries = *in.MaxRetries
	}

	if err := s.configs.Create(ctx, c); err != nil {
		return nil, err
	}
	log.Info().Str("webhook_id", c.ID).Str("org_id", orgID).Msg("Webhook configuration created")
	return c, nil
}

func (s *Service) GetConfiguration(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	return s.configs.GetForOrg(ctx, orgID, id)
}

func (s *Service) ListConfigurations(ctx context.Context, orgID string) ([]*models.WebhookConfiguration, error) {
	return s.configs.ListByOrg(ctx, orgID)
}

// UpdateConfiguration applies a partial update. A new callback URL drops
// verification and activation; the owner has to verify again. The store
// owns the verification flags, so a handshake or token rotation racing
// this update is not undone by it.
func (s *Service) UpdateConfiguration(ctx context.Context, orgID, id string, in UpdateConfigurationInput) (*models.WebhookConfiguration, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, s.invalid(err)
	}

	c, err := s.configs.GetForOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if in.CallbackURL != nil {
		c.CallbackURL = *in.CallbackURL
	}
	if in.SubscribedEvents != nil {
		c.SubscribedEvents = in.SubscribedEvents
	}
	if in.Platform != nil {
		c.Platform = *in.Platform
	}
	if in.TimeoutSeconds != nil {
		c.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.MaxRetries != nil {
		c.MaxRetries = *in.MaxRetries
	}
	if in.CustomHeaders != nil {
		c.CustomHeaders = in.CustomHeaders
	}

	if err := s.configs.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteConfiguration removes the configuration and its logs. Claimed
// retries in flight lose their row and are dropped.
func (s *Service) DeleteConfiguration(ctx context.Context, orgID, id string) error {
	if err := s.configs.Delete(ctx, orgID, id); err != nil {
		return err
	}
	log.Info().Str("webhook_id", id).Str("org_id", orgID).Msg("Webhook configuration deleted")
	return nil
}

// VerifyConfiguration runs the handshake and records the result. A failed
// handshake is returned as ErrVerificationFailed along with the result.
func (s *Service) VerifyConfiguration(ctx context.Context, orgID, id string) (*VerificationResult, error) {
	c, err := s.configs.GetForOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	res := s.verifier.Verify(ctx, c)
	if err := s.configs.MarkVerified(ctx, c.ID, res.Verified(), s.now().Unix()); err != nil {
		return nil, err
	}
	if !res.Verified() {
		return &res, fmt.Errorf("%w: %s", ErrVerificationFailed, res.Reason)
	}
	return &res, nil
}

func (s *Service) Activate(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	c, err := s.configs.GetForOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsVerified {
		return nil, ErrNotVerified
	}

	if err := s.configs.SetActive(ctx, orgID, id, true); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Verification was dropped between the read and the update.
			return nil, ErrNotVerified
		}
		return nil, err
	}
	return s.configs.GetForOrg(ctx, orgID, id)
}

// Deactivate stops new deliveries; scheduled retries are cancelled when
// the scheduler next reaches them.
func (s *Service) Deactivate(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	if err := s.configs.SetActive(ctx, orgID, id, false); err != nil {
		return nil, err
	}
	return s.configs.GetForOrg(ctx, orgID, id)
}

// RotateVerifyToken issues a new handshake token. The configuration is
// unverified and inactive until verified again.
func (s *Service) RotateVerifyToken(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	token, err := newVerifyToken()
	if err != nil {
		return nil, err
	}
	if err := s.configs.RotateVerifyToken(ctx, orgID, id, token); err != nil {
		return nil, err
	}
	return s.configs.GetForOrg(ctx, orgID, id)
}

// RotateSecretKey issues a new signing key. Only attempts made after the
// rotation use it.
func (s *Service) RotateSecretKey(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	secret, err := newSecretKey()
	if err != nil {
		return nil, err
	}
	if err := s.configs.RotateSecretKey(ctx, orgID, id, secret); err != nil {
		return nil, err
	}
	return s.configs.GetForOrg(ctx, orgID, id)
}

// EmitEvent stores the event and queues a delivery for each interested
// configuration. Delivery outcomes never come back to the emitter.
func (s *Service) EmitEvent(ctx context.Context, orgID, eventType string, payload json.RawMessage) (*models.Event, []*models.DeliveryLog, error) {
	eventType = strings.TrimSpace(eventType)
	if orgID == "" || eventType == "" {
		return nil, nil, fmt.Errorf("%w: organization and event type are required", ErrInvalidEvent)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
	}

	event := &models.Event{
		OrganizationID: orgID,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      s.now().UnixMilli(),
	}
	if err := s.logs.CreateEvent(ctx, event); err != nil {
		return nil, nil, err
	}
	s.metrics.EventEmitted()

	candidates, err := s.configs.ListSubscribed(ctx, orgID, eventType)
	if err != nil {
		return event, nil, err
	}

	logs, err := s.dispatcher.Dispatch(ctx, event, candidates)
	if err != nil {
		return event, nil, err
	}

	log.Info().Str("event_id", event.ID).Str("event_type", eventType).Int("deliveries", len(logs)).Msg("Event emitted")
	return event, logs, nil
}

func (s *Service) ListDeliveryLogs(ctx context.Context, orgID, configID string, status models.DeliveryStatus, page, limit int) ([]*models.DeliveryLog, int, error) {
	if _, err := s.configs.GetForOrg(ctx, orgID, configID); err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidConfiguration, status)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	return s.logs.List(ctx, models.DeliveryLogFilter{
		OrganizationID:  orgID,
		ConfigurationID: configID,
		Status:          status,
		Limit:           limit,
		Offset:          (page - 1) * limit,
	})
}

func (s *Service) GetDeliveryLog(ctx context.Context, orgID, id string) (*models.DeliveryLog, error) {
	return s.logs.GetForOrg(ctx, orgID, id)
}

// RetryDelivery re-queues a failed or cancelled delivery for the next
// scheduler pass. The attempt counter restarts at zero and max_attempts is
// taken from the configuration's current max_retries, so a manual retry gets
// a fresh budget rather than extending the exhausted one.
func (s *Service) RetryDelivery(ctx context.Context, orgID, id string) (*models.DeliveryLog, error) {
	l, err := s.logs.GetForOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if l.Status != models.DeliveryFailed && l.Status != models.DeliveryCancelled {
		return nil, ErrNotRetryable
	}

	c, err := s.configs.GetForOrg(ctx, orgID, l.ConfigurationID)
	if err != nil {
		return nil, err
	}
	if !c.IsVerified {
		return nil, ErrNotVerified
	}
	if !c.IsActive {
		return nil, ErrInactive
	}

	if err := s.logs.Requeue(ctx, orgID, id, c.MaxRetries+1); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotRetryable
		}
		return nil, err
	}
	log.Info().Str("delivery_id", id).Str("webhook_id", c.ID).Msg("Delivery re-queued")
	return s.logs.GetForOrg(ctx, orgID, id)
}

// Stats aggregates a configuration's logs created within window.
func (s *Service) Stats(ctx context.Context, orgID, configID string, window time.Duration) (*models.DeliveryStats, error) {
	if _, err := s.configs.GetForOrg(ctx, orgID, configID); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.logs.Stats(ctx, configID, s.now().Add(-window).UnixMilli())
}
