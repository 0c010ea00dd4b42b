package subscription

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrEmpty       = errors.New("empty subscription body")
	ErrNoOutbounds = errors.New("no usable outbounds in content")
)

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindDNS        ErrorKind = "dns"
	KindTLS        ErrorKind = "tls"
	KindHTTPStatus ErrorKind = "http_status"
	KindGeneric    ErrorKind = "generic"
)

// FetchError is a classified failure of one fetch attempt.
type FetchError struct {
	Kind     ErrorKind
	URL      string
	Identity string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s (%s): http status %d", e.URL, e.Identity, e.Status)
	}
	return fmt.Sprintf("fetch %s (%s): %s: %v", e.URL, e.Identity, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UserMessage is the short text shown to the user for this failure.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case KindTimeout:
		return "The subscription server did not respond in time."
	case KindDNS:
		return "The subscription host name could not be resolved."
	case KindTLS:
		return "A secure connection to the subscription server could not be established."
	case KindHTTPStatus:
		return fmt.Sprintf("The subscription server answered with HTTP %d.", e.Status)
	default:
		return "The subscription could not be downloaded."
	}
}

// Classify maps a transport error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindGeneric
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownErr  x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) || errors.As(err, &unknownErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return KindTLS
	}

	// Wrapped errors from proxies and dialers often lose their type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "server misbehaving"):
		return KindDNS
	case strings.Contains(msg, "tls:") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate"):
		return KindTLS
	}
	return KindGeneric
}
