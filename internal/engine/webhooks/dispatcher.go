package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"hookline/internal/platform/metrics"
	"hookline/internal/platform/models"
)

const (
	defaultTimeout = 30 * time.Second
	leaseMargin    = 30 * time.Second
	cancelReason   = "configuration_deleted_or_deactivated"
)

// reservedHeaders are always set by the dispatcher; custom headers with
// these names are dropped.
var reservedHeaders = map[string]bool{
	HeaderSignature:  true,
	HeaderEvent:      true,
	HeaderDelivery:   true,
	HeaderAttempt:    true,
	"Content-Type":   true,
	"Content-Length": true,
	"User-Agent":     true,
	"Host":           true,
	"Traceparent":    true,
	"Tracestate":     true,
}

type DispatcherConfig struct {
	UserAgent            string
	MaxPayloadBytes      int
	ResponseSnippetBytes int
	ClaimLease           time.Duration
	Backoff              Backoff
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		UserAgent:            "Hookline-Webhooks/1.0",
		MaxPayloadBytes:      256 * 1024,
		ResponseSnippetBytes: 1024,
		ClaimLease:           2 * time.Minute,
		Backoff:              DefaultBackoff(),
	}
}

// Dispatcher signs and sends event envelopes, classifies outcomes, updates
// configuration counters and schedules retries on the log row.
type Dispatcher struct {
	configs ConfigurationStore
	logs    DeliveryLogStore
	pool    *Pool
	client  *http.Client
	cfg     DispatcherConfig
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewDispatcher(configs ConfigurationStore, logs DeliveryLogStore, pool *Pool, cfg DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		configs: configs,
		logs:    logs,
		pool:    pool,
		client:  newHTTPClient(),
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer("hookline/webhooks"),
		now:     time.Now,
	}
}

// newHTTPClient has no overall Timeout; every request carries its own
// deadline. Redirects are reported as the 3xx they are.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func timeoutFor(c *models.WebhookConfiguration) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// attemptLease covers the whole attempt: at least the request timeout plus
// leaseMargin for persisting the outcome.
func (d *Dispatcher) attemptLease(c *models.WebhookConfiguration) time.Duration {
	lease := d.cfg.ClaimLease
	if floor := timeoutFor(c) + leaseMargin; lease < floor {
		lease = floor
	}
	return lease
}

type delivery struct {
	config *models.WebhookConfiguration
	log    *models.DeliveryLog
}

// HandleEvent creates a pending log for every deliverable, subscribed
// candidate, runs the first attempts on the pool and waits for them. The
// returned logs are terminal or retrying.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *models.Event, candidates []*models.WebhookConfiguration) ([]*models.DeliveryLog, error) {
	deliveries, err := d.prepare(ctx, event, candidates)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	d.submit(ctx, event, deliveries, &wg)
	wg.Wait()

	logs := make([]*models.DeliveryLog, 0, len(deliveries))
	for _, dl := range deliveries {
		logs = append(logs, dl.log)
	}
	return logs, nil
}

// Dispatch is HandleEvent without waiting: the logs are durable when it
// returns and the attempts run in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event, candidates []*models.WebhookConfiguration) ([]*models.DeliveryLog, error) {
	deliveries, err := d.prepare(ctx, event, candidates)
	if err != nil {
		return nil, err
	}

	logs := make([]*models.DeliveryLog, 0, len(deliveries))
	for _, dl := range deliveries {
		cp := *dl.log
		logs = append(logs, &cp)
	}
	d.submit(ctx, event, deliveries, nil)
	return logs, nil
}

func (d *Dispatcher) prepare(ctx context.Context, event *models.Event, candidates []*models.WebhookConfiguration) ([]delivery, error) {
	if event.ID == "" {
		if err := d.logs.CreateEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("webhooks: store event: %w", err)
		}
	}

	body, err := envelope(event)
	if err != nil {
		return nil, err
	}
	hash := payloadHash(body)

	var deliveries []delivery
	for _, c := range candidates {
		if !c.Deliverable() || !c.Subscribes(event.Type) {
			continue
		}

		now := d.now()
		until := now.Add(d.cfg.ClaimLease).UnixMilli()
		l := &models.DeliveryLog{
			ConfigurationID:    c.ID,
			OrganizationID:     c.OrganizationID,
			EventID:            event.ID,
			EventType:          event.Type,
			Status:             models.DeliveryPending,
			MaxAttempts:        c.MaxRetries + 1,
			RequestPayloadHash: hash,
			ScheduledAt:        now.UnixMilli(),
			ClaimToken:         uuid.New().String(),
			ClaimedUntil:       &until,
			CreatedAt:          now.UnixMilli(),
		}
		if err := d.logs.Create(ctx, l); err != nil {
			log.Error().Err(err).Str("webhook_id", c.ID).Str("event_id", event.ID).Msg("Failed to create delivery log")
			continue
		}
		deliveries = append(deliveries, delivery{config: c, log: l})
	}
	return deliveries, nil
}

// submit hands each delivery to the pool. Attempts are detached from the
// caller's cancellation and bounded by the configuration timeout instead. A
// delivery that cannot be queued keeps its lease and is picked up by the
// scheduler once the lease expires.
func (d *Dispatcher) submit(ctx context.Context, event *models.Event, deliveries []delivery, wg *sync.WaitGroup) {
	attemptCtx := context.WithoutCancel(ctx)
	for _, dl := range deliveries {
		if wg != nil {
			wg.Add(1)
		}
		err := d.pool.Submit(ctx, func() {
			if wg != nil {
				defer wg.Done()
			}
			if err := d.AttemptDelivery(attemptCtx, dl.config, dl.log, event); err != nil {
				log.Error().Err(err).Str("delivery_id", dl.log.ID).Msg("Failed to record delivery attempt")
			}
		})
		if err != nil {
			if wg != nil {
				wg.Done()
			}
			log.Warn().Err(err).Str("delivery_id", dl.log.ID).Msg("Delivery not queued, leaving it to the scheduler")
		}
	}
}

// Redeliver runs the next attempt for a log claimed by the scheduler. The
// configuration is re-read first; a deleted, inactive or unverified one
// cancels the delivery without touching counters.
func (d *Dispatcher) Redeliver(ctx context.Context, l *models.DeliveryLog) error {
	c, err := d.configs.GetByID(ctx, l.ConfigurationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if c == nil || !c.Deliverable() {
		return d.cancel(ctx, l)
	}

	event, err := d.logs.GetEvent(ctx, l.EventID)
	if err != nil {
		return fmt.Errorf("webhooks: load event %s: %w", l.EventID, err)
	}
	return d.AttemptDelivery(ctx, c, l, event)
}

func (d *Dispatcher) cancel(ctx context.Context, l *models.DeliveryLog) error {
	l.Status = models.DeliveryCancelled
	l.NextRetryAt = nil
	l.ErrorMessage = cancelReason

	err := d.logs.SaveAttempt(ctx, l)
	if errors.Is(err, ErrClaimLost) {
		// Row went away with its configuration, or another worker owns it.
		return nil
	}
	if err != nil {
		return err
	}

	d.metrics.Cancelled()
	log.Info().Str("delivery_id", l.ID).Str("webhook_id", l.ConfigurationID).Msg("Delivery cancelled")
	return nil
}

type attemptOutcome struct {
	statusCode int
	snippet    string
	errMsg     string
	terminal   bool
	retryAfter time.Duration
}

// AttemptDelivery performs one HTTP attempt for a claimed log and persists
// the result. Delivery failures are recorded, not returned; the error is
// only about persistence.
func (d *Dispatcher) AttemptDelivery(ctx context.Context, c *models.WebhookConfiguration, l *models.DeliveryLog, event *models.Event) error {
	body, err := envelope(event)
	if err != nil {
		return err
	}

	// The lease was taken when the log was queued and may have run out while
	// the task waited for a worker. Renew it before sending; if the scheduler
	// has re-leased the row, the new holder makes this attempt instead.
	if err := d.logs.RenewClaim(ctx, l, d.now().Add(d.attemptLease(c)).UnixMilli()); err != nil {
		if errors.Is(err, ErrClaimLost) {
			log.Info().Str("delivery_id", l.ID).Str("webhook_id", c.ID).Msg("Delivery claimed by another worker, skipping attempt")
			return nil
		}
		return fmt.Errorf("webhooks: renew claim %s: %w", l.ID, err)
	}

	l.AttemptNumber++
	l.RequestPayloadHash = payloadHash(body)
	start := d.now()
	attemptedAt := start.UnixMilli()
	l.AttemptedAt = &attemptedAt

	ctx, span := d.tracer.Start(ctx, "webhooks.AttemptDelivery", trace.WithAttributes(
		attribute.String("webhook.id", c.ID),
		attribute.String("delivery.id", l.ID),
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
		attribute.Int("delivery.attempt", l.AttemptNumber),
	))
	defer span.End()

	var out attemptOutcome
	if d.cfg.MaxPayloadBytes > 0 && len(body) > d.cfg.MaxPayloadBytes {
		out = attemptOutcome{
			errMsg:   fmt.Sprintf("%s: %d bytes exceeds limit of %d", KindPayloadTooLarge, len(body), d.cfg.MaxPayloadBytes),
			terminal: true,
		}
	} else {
		out = d.send(ctx, c, l, event, body)
	}

	elapsed := d.now().Sub(start)
	l.DurationMs = elapsed.Milliseconds()
	l.ErrorMessage = out.errMsg
	l.ResponseSnippet = out.snippet
	l.ResponseStatusCode = nil
	if out.statusCode != 0 {
		code := out.statusCode
		l.ResponseStatusCode = &code
	}

	success := out.errMsg == ""
	switch {
	case success:
		l.Status = models.DeliverySuccess
		l.NextRetryAt = nil
	case out.terminal || l.AttemptNumber >= l.MaxAttempts:
		l.Status = models.DeliveryFailed
		l.NextRetryAt = nil
	default:
		delay := d.cfg.Backoff.Delay(l.AttemptNumber)
		if out.retryAfter > delay {
			delay = out.retryAfter
			if d.cfg.Backoff.Max > 0 && delay > d.cfg.Backoff.Max {
				delay = d.cfg.Backoff.Max
			}
		}
		next := d.now().Add(delay).UnixMilli()
		l.Status = models.DeliveryRetrying
		l.NextRetryAt = &next
	}

	span.SetAttributes(attribute.String("delivery.status", string(l.Status)))
	if out.statusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", out.statusCode))
	}
	if !success {
		span.SetStatus(codes.Error, out.errMsg)
	}

	if err := d.logs.SaveAttempt(ctx, l); err != nil {
		span.RecordError(err)
		return fmt.Errorf("webhooks: save attempt %s: %w", l.ID, err)
	}

	at := d.now().Unix()
	if success {
		err = d.configs.RecordSuccess(ctx, c.ID, at)
	} else {
		err = d.configs.RecordFailure(ctx, c.ID, at, out.errMsg)
	}
	if err != nil {
		log.Error().Err(err).Str("webhook_id", c.ID).Msg("Failed to update webhook counters")
	}

	d.metrics.ObserveAttempt(string(l.Status), elapsed)

	evt := log.Info()
	if !success {
		evt = log.Warn()
	}
	evt.Str("webhook_id", c.ID).
		Str("delivery_id", l.ID).
		Str("event_id", event.ID).
		Int("attempt", l.AttemptNumber).
		Str("status", string(l.Status)).
		Str("error", out.errMsg).
		Int64("duration_ms", l.DurationMs).
		Msg("Webhook delivery attempt")
	return nil
}

func (d *Dispatcher) send(ctx context.Context, c *models.WebhookConfiguration, l *models.DeliveryLog, event *models.Event, body []byte) attemptOutcome {
	ctx, cancel := context.WithTimeout(ctx, timeoutFor(c))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return attemptOutcome{errMsg: describeError(KindTransport, err), terminal: true}
	}

	for name, value := range c.CustomHeaders {
		if reservedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		req.Header.Set(name, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(HeaderSignature, Sign(c.SecretKey, body))
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderDelivery, l.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(l.AttemptNumber))

	resp, err := d.client.Do(req)
	if err != nil {
		return attemptOutcome{errMsg: describeError(classifyTransportError(err), err)}
	}
	defer resp.Body.Close()

	out := attemptOutcome{statusCode: resp.StatusCode}
	if n := d.cfg.ResponseSnippetBytes; n > 0 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
		out.snippet = string(snippet)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case isSuccess(resp.StatusCode):
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		out.errMsg = KindPayloadTooLarge + ": " + non2xx(resp.StatusCode)
		out.terminal = true
	case isPermanentRejection(resp.StatusCode):
		out.errMsg = non2xx(resp.StatusCode)
		out.terminal = true
	default:
		out.errMsg = non2xx(resp.StatusCode)
		if honoursRetryAfter(resp.StatusCode) {
			out.retryAfter, _ = retryAfter(resp.Header, d.now())
		}
	}
	return out
}

// envelope serializes the event once; retries rebuild the same bytes from
// the stored event.
func envelope(event *models.Event) ([]byte, error) {
	data := event.Payload
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	body, err := json.Marshal(models.WebhookEvent{
		ID:        event.ID,
		Event:     event.Type,
		Timestamp: event.CreatedAt / 1000,
		OrgID:     event.OrganizationID,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("webhooks: encode envelope: %w", err)
	}
	return body, nil
}
