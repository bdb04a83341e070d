package routeros

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
)

// Credentials is the plaintext pair the caller obtains from
// pkg/credential.Service.Retrieve immediately before a call; it is never
// persisted by this package.
type Credentials struct {
	Username string
	Password string
}

// Result is the outcome of a single Call.
type Result struct {
	Transport string // "rest" or "ssh"
	Changed   bool
	Data      json.RawMessage
	Raw       string // SSH combined output, empty for REST calls
}

// ProbeResult is the outcome of a reachability probe.
type ProbeResult struct {
	Transport     string   `json:"transport"`
	Success       bool     `json:"success"`
	FallbackUsed  bool     `json:"fallback_used"`
	Attempted     []string `json:"attempted_transports"`
	Reason        string   `json:"failure_reason,omitempty"` // auth | timeout | unreachable | tls | protocol
	Remediation   []string `json:"remediation,omitempty"`
	ObservedBoard json.RawMessage `json:"-"`
}

// Client performs typed operations against RouterOS devices, preferring
// REST and falling back to SSH on transport-level failure.
type Client struct {
	rest *restTransport
	ssh  *sshTransport

	restTimeout time.Duration
	sshTimeout  time.Duration
	poolCap     int

	mu   sync.Mutex
	sems map[uuid.UUID]chan struct{}
}

// Config configures timeouts and the per-device connection pool cap.
type Config struct {
	RESTTimeout  time.Duration
	SSHTimeout   time.Duration
	PoolCapacity int // per-device connection cap, default 8
}

// NewClient creates a RouterOS client.
func NewClient(cfg Config) *Client {
	if cfg.RESTTimeout == 0 {
		cfg.RESTTimeout = 5 * time.Second
	}
	if cfg.SSHTimeout == 0 {
		cfg.SSHTimeout = 10 * time.Second
	}
	if cfg.PoolCapacity == 0 {
		cfg.PoolCapacity = 8
	}
	return &Client{
		rest:        newRESTTransport(cfg.RESTTimeout),
		ssh:         newSSHTransport(cfg.SSHTimeout),
		restTimeout: cfg.RESTTimeout,
		sshTimeout:  cfg.SSHTimeout,
		poolCap:     cfg.PoolCapacity,
		sems:        make(map[uuid.UUID]chan struct{}),
	}
}

// acquire blocks until a slot in deviceID's connection pool is free; it
// never blocks on another device's pool, so there is no cross-device
// head-of-line blocking.
func (c *Client) acquire(ctx context.Context, deviceID uuid.UUID) (func(), error) {
	c.mu.Lock()
	sem, ok := c.sems[deviceID]
	if !ok {
		sem = make(chan struct{}, c.poolCap)
		c.sems[deviceID] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call performs op against deviceID at endpoint, preferring REST and
// falling back to SSH when the REST transport itself fails (not when
// RouterOS returns a well-formed error response). params are passed as the
// REST JSON body (as a map) and, for SSH, rendered into the catalog entry's
// command template after a shell-metacharacter check.
func (c *Client) Call(ctx context.Context, deviceID uuid.UUID, endpoint string, creds Credentials, op Op, params map[string]any) (*Result, error) {
	entry, ok := Catalog[op]
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidRequest, "operation %q is not in the RouterOS command catalog", op)
	}

	release, err := c.acquire(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("acquiring device connection slot: %w", err)
	}
	defer release()

	start := time.Now()
	transport, outcome := "rest", "success"
	defer func() {
		telemetry.RouterOSCallDuration.WithLabelValues(transport, outcome).Observe(time.Since(start).Seconds())
	}()

	path := entry.RESTPath
	if id, ok := params["id"].(string); ok && entry.RESTMethod == "DELETE" {
		path = fmt.Sprintf(entry.RESTPath, id)
	}

	var preState, postState json.RawMessage
	if entry.Write {
		preState, _ = c.rest.do(ctx, "GET", endpoint, path, creds.Username, creds.Password, nil)
	}

	raw, restErr := c.rest.do(ctx, entry.RESTMethod, endpoint, path, creds.Username, creds.Password, params)
	if restErr == nil {
		if entry.Write {
			postState, _ = c.rest.do(ctx, "GET", endpoint, path, creds.Username, creds.Password, nil)
			return &Result{Transport: "rest", Changed: string(preState) != string(postState), Data: raw}, nil
		}
		return &Result{Transport: "rest", Data: raw}, nil
	}

	if !isTransportFailure(restErr) {
		outcome = "error"
		return nil, mapTransportError(entry.RESTMethod, restErr)
	}

	// REST failed at the transport level; fall back to SSH.
	transport = "ssh"
	stringParams := make(map[string]string, len(params))
	for k, v := range params {
		stringParams[k] = fmt.Sprintf("%v", v)
	}
	command, err := RenderSSH(entry, stringParams)
	if err != nil {
		outcome = "error"
		return nil, errs.Wrap(errs.CodeInvalidParams, "rendering SSH command", err)
	}

	out, sshErr := c.ssh.run(ctx, endpoint, creds.Username, creds.Password, command)
	if sshErr != nil {
		outcome = "error"
		return nil, mapTransportError("ssh", sshErr)
	}
	return &Result{Transport: "ssh", Raw: out}, nil
}

// Probe performs the reachability protocol: try REST
// system/resource, fall back to SSH's system_resource_print, and classify
// the failure if both fail.
func (c *Client) Probe(ctx context.Context, deviceID uuid.UUID, endpoint string, creds Credentials) *ProbeResult {
	release, err := c.acquire(ctx, deviceID)
	if err != nil {
		return &ProbeResult{Success: false, Reason: "unreachable", Remediation: []string{"probe was cancelled before a connection slot became available"}}
	}
	defer release()

	restCtx, cancel := context.WithTimeout(ctx, c.restTimeout)
	defer cancel()
	raw, restErr := c.rest.do(restCtx, "GET", endpoint, Catalog[OpSystemResourceRead].RESTPath, creds.Username, creds.Password, nil)
	if restErr == nil {
		return &ProbeResult{Transport: "rest", Success: true, Attempted: []string{"rest"}, ObservedBoard: raw}
	}

	if !isTransportFailure(restErr) {
		return classifyProbeFailure("rest", []string{"rest"}, restErr)
	}

	sshCtx, cancel := context.WithTimeout(ctx, c.sshTimeout)
	defer cancel()
	out, sshErr := c.ssh.run(sshCtx, endpoint, creds.Username, creds.Password, Catalog[OpSystemResourceRead].SSHCommand)
	if sshErr == nil {
		return &ProbeResult{Transport: "ssh", Success: true, FallbackUsed: true, Attempted: []string{"rest", "ssh"}, ObservedBoard: json.RawMessage(fmt.Sprintf("%q", out))}
	}

	return classifyProbeFailure("ssh", []string{"rest", "ssh"}, sshErr)
}

func classifyProbeFailure(transport string, attempted []string, err error) *ProbeResult {
	mapped := mapTransportError("GET", err)
	result := &ProbeResult{Transport: transport, Success: false, Attempted: attempted, FallbackUsed: len(attempted) > 1}
	if isTLSFailure(err) {
		result.Reason = "tls"
		result.Remediation = []string{"verify the device's www-ssl certificate is valid and trusted", "check for a TLS-intercepting middlebox on the management path"}
		return result
	}
	switch mapped.Code {
	case errs.CodeAuthFailure:
		result.Reason = "auth"
		result.Remediation = []string{"verify the device credential has not been rotated out of band", "confirm the account has API/SSH access enabled"}
	case errs.CodeTimeout:
		result.Reason = "timeout"
		result.Remediation = []string{"check network path latency to the device", "confirm the device is not under high CPU load"}
	case errs.CodeDeviceUnreachable:
		result.Reason = "unreachable"
		result.Remediation = []string{"confirm the device is powered and the management interface is up", "verify firewall rules permit the control plane's source address"}
	default:
		result.Reason = "protocol"
		result.Remediation = []string{"inspect the device's RouterOS version for REST/SSH API compatibility", "confirm www-ssl and ssh services are enabled on the device"}
	}
	return result
}
