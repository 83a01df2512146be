package webhooks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Diagnostic kinds written to error_message and last_error.
const (
	KindTimeout           = "timeout"
	KindConnectionRefused = "connection_refused"
	KindDNSFailure        = "dns_failure"
	KindTLSError          = "tls_error"
	KindNon2xx            = "non_2xx"
	KindPayloadTooLarge   = "payload_too_large"
	KindTransport         = "transport_error"
)

func classifyTransportError(err error) string {
	var (
		dnsErr      *net.DNSError
		netErr      net.Error
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certInvalid x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNSFailure
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.As(err, &verifyErr), errors.As(err, &unknownCA), errors.As(err, &hostnameErr),
		errors.As(err, &certInvalid), errors.As(err, &recordErr):
		return KindTLSError
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	}
	return KindTransport
}

func describeError(kind string, err error) string {
	if err == nil {
		return kind
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

func non2xx(code int) string {
	return fmt.Sprintf("%s:%d", KindNon2xx, code)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// isPermanentRejection reports response codes that end a delivery at once.
func isPermanentRejection(code int) bool {
	return code == http.StatusGone || code == http.StatusRequestEntityTooLarge
}

func honoursRetryAfter(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
