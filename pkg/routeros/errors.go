package routeros

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// mapTransportError converts a REST or SSH transport failure into the
// internal error taxonomy.
func mapTransportError(method string, err error) *errs.Error {
	if err == nil {
		return nil
	}

	var restErr *restError
	if errors.As(err, &restErr) {
		switch {
		case restErr.StatusCode == http.StatusUnauthorized || restErr.StatusCode == http.StatusForbidden:
			return errs.Wrap(errs.CodeAuthFailure, "RouterOS rejected credentials", err)
		case restErr.StatusCode >= 400 && restErr.StatusCode < 500:
			if method == http.MethodGet {
				return errs.Wrap(errs.CodeDeviceNotFound, "RouterOS resource not found", err)
			}
			return errs.Wrap(errs.CodeInvalidParams, "RouterOS rejected request", err)
		case restErr.StatusCode >= 500:
			return errs.Wrap(errs.CodeDeviceError, "RouterOS returned a server error", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.CodeTimeout, "RouterOS call exceeded its deadline", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.CodeTimeout, "RouterOS call timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errs.Wrap(errs.CodeDeviceUnreachable, "RouterOS hostname did not resolve", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errs.Wrap(errs.CodeDeviceUnreachable, "RouterOS connection failed", err)
	}

	return errs.Wrap(errs.CodeDeviceError, "RouterOS call failed", err)
}

// isTLSFailure reports whether err is a certificate or TLS handshake
// problem, which gets its own probe classification and remediation.
func isTLSFailure(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var certInvalid x509.CertificateInvalidError
	return errors.As(err, &certInvalid)
}

// isTransportFailure reports whether err represents a connection-level
// failure (as opposed to an authenticated-but-rejected response), meaning
// the client should attempt the SSH fallback rather than surface the error.
func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	var restErr *restError
	if errors.As(err, &restErr) {
		return false
	}
	return true
}
