package routeros

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

func TestMapTransportError(t *testing.T) {
	cases := []struct {
		name   string
		method string
		err    error
		want   errs.Code
	}{
		{"unauthorized", http.MethodGet, &restError{StatusCode: 401}, errs.CodeAuthFailure},
		{"forbidden", http.MethodGet, &restError{StatusCode: 403}, errs.CodeAuthFailure},
		{"not found on read", http.MethodGet, &restError{StatusCode: 404}, errs.CodeDeviceNotFound},
		{"bad request on write", http.MethodPut, &restError{StatusCode: 400}, errs.CodeInvalidParams},
		{"server error", http.MethodGet, &restError{StatusCode: 500}, errs.CodeDeviceError},
		{"deadline exceeded", http.MethodGet, fmt.Errorf("call: %w", context.DeadlineExceeded), errs.CodeTimeout},
		{"dns failure", http.MethodGet, &net.DNSError{Err: "no such host", Name: "r1.lab"}, errs.CodeDeviceUnreachable},
		{"connection refused", http.MethodGet, &net.OpError{Op: "dial", Err: errors.New("connection refused")}, errs.CodeDeviceUnreachable},
		{"unclassified", http.MethodGet, errors.New("weird"), errs.CodeDeviceError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := mapTransportError(c.method, c.err)
			if got.Code != c.want {
				t.Fatalf("mapTransportError(%v) = %s, want %s", c.err, got.Code, c.want)
			}
		})
	}
}

func TestIsTransportFailure(t *testing.T) {
	if isTransportFailure(&restError{StatusCode: 500}) {
		t.Fatal("a well-formed HTTP error response is not a transport failure")
	}
	if !isTransportFailure(&net.OpError{Op: "dial", Err: errors.New("connection refused")}) {
		t.Fatal("a dial failure is a transport failure")
	}
	if isTransportFailure(nil) {
		t.Fatal("nil is not a transport failure")
	}
}

func TestClassifyProbeFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &restError{StatusCode: 401}, "auth"},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"unreachable", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, "unreachable"},
		{"tls", x509.UnknownAuthorityError{}, "tls"},
		{"protocol", errors.New("garbled response"), "protocol"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyProbeFailure("ssh", []string{"rest", "ssh"}, c.err)
			if got.Reason != c.want {
				t.Fatalf("classifyProbeFailure(%v).Reason = %q, want %q", c.err, got.Reason, c.want)
			}
			if len(got.Remediation) == 0 {
				t.Fatal("classified failure must carry remediation hints")
			}
			if !got.FallbackUsed || len(got.Attempted) != 2 {
				t.Fatalf("probe over both transports must report fallback_used and attempted_transports, got %+v", got)
			}
		})
	}
}
