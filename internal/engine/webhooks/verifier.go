package webhooks

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hookline/internal/platform/metrics"
	"hookline/internal/platform/models"
)

// VerificationState follows not_verified -> challenging -> verified|failed.
// Each transition is recorded as a span event on webhooks.Verify.
type VerificationState string

const (
	StateNotVerified VerificationState = "not_verified"
	StateChallenging VerificationState = "challenging"
	StateVerified    VerificationState = "verified"
	StateFailed      VerificationState = "failed"
)

const maxChallengeBody = 4096

type VerificationResult struct {
	State      VerificationState `json:"state"`
	StatusCode int               `json:"status_code,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func (r VerificationResult) Verified() bool {
	return r.State == StateVerified
}

// Verifier runs the challenge/response handshake against a callback URL.
// It never retries; callers decide whether to try again.
type Verifier struct {
	client       *http.Client
	userAgent    string
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	newChallenge func() (string, error)
}

func NewVerifier(userAgent string, m *metrics.Metrics) *Verifier {
	return &Verifier{
		client:       newHTTPClient(),
		userAgent:    userAgent,
		metrics:      m,
		tracer:       otel.Tracer("hookline/webhooks"),
		newChallenge: newChallenge,
	}
}

// Verify sends GET callback_url?challenge=..&verify_token=.. and accepts a
// 2xx whose body is the challenge or its HMAC under the verify token.
func (v *Verifier) Verify(ctx context.Context, c *models.WebhookConfiguration) VerificationResult {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "webhooks.Verify", trace.WithAttributes(
		attribute.String("webhook.id", c.ID),
		attribute.String("webhook.org_id", c.OrganizationID),
	))
	defer span.End()
	markState(span, StateNotVerified)

	res := v.challenge(ctx, c)
	res.DurationMs = time.Since(start).Milliseconds()

	markState(span, res.State)
	span.SetAttributes(attribute.String("webhook.verification_state", string(res.State)))
	if !res.Verified() {
		span.SetStatus(codes.Error, res.Reason)
	}
	v.metrics.Verification(res.Verified())

	log.Info().
		Str("webhook_id", c.ID).
		Str("state", string(res.State)).
		Int("status_code", res.StatusCode).
		Str("reason", res.Reason).
		Msg("Endpoint verification finished")
	return res
}

func (v *Verifier) challenge(ctx context.Context, c *models.WebhookConfiguration) VerificationResult {
	challenge, err := v.newChallenge()
	if err != nil {
		return failed(0, fmt.Sprintf("challenge generation: %v", err))
	}

	target, err := url.Parse(c.CallbackURL)
	if err != nil || !target.IsAbs() {
		return failed(0, "invalid callback_url")
	}
	q := target.Query()
	q.Set("challenge", challenge)
	q.Set("verify_token", c.VerifyToken)
	target.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(c))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return failed(0, describeError(KindTransport, err))
	}
	req.Header.Set(HeaderSignature, ChallengeResponse(c.VerifyToken, challenge))
	req.Header.Set("User-Agent", v.userAgent)

	markState(trace.SpanFromContext(ctx), StateChallenging)
	resp, err := v.client.Do(req)
	if err != nil {
		return failed(0, describeError(classifyTransportError(err), err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return failed(resp.StatusCode, describeError(classifyTransportError(err), err))
	}
	if !isSuccess(resp.StatusCode) {
		return failed(resp.StatusCode, non2xx(resp.StatusCode))
	}

	echoed := strings.TrimSpace(string(body))
	if !constantTimeEqual(echoed, challenge) && !constantTimeEqual(echoed, ChallengeResponse(c.VerifyToken, challenge)) {
		return failed(resp.StatusCode, "challenge_mismatch")
	}
	return VerificationResult{State: StateVerified, StatusCode: resp.StatusCode}
}

func markState(span trace.Span, state VerificationState) {
	span.AddEvent("verification.state", trace.WithAttributes(
		attribute.String("webhook.verification_state", string(state)),
	))
}

func failed(code int, reason string) VerificationResult {
	return VerificationResult{State: StateFailed, StatusCode: code, Reason: reason}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
