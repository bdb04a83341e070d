package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/identity"
	"github.com/wrenops/netguard-mcp/pkg/toolregistry"
)

// serverName/serverVersion are reported in the initialize response.
const (
	serverName    = "netguard-mcpd"
	serverVersion = "1.0"
)

// Dispatcher routes JSON-RPC 2.0 requests to the ToolRegistry. Domain
// errors are converted to JSON-RPC error envelopes at this single point,
// generalized from HTTP verbs + chi routes to JSON-RPC methods + a map
// dispatch table, matching the construct-once/route-by-name idiom used
// throughout this codebase's own narrow-dependency packages.
type Dispatcher struct {
	registry *toolregistry.Registry
	logger   *slog.Logger
}

// New constructs a Dispatcher.
func New(registry *toolregistry.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

// Handle processes a single raw JSON-RPC message (request or notification)
// and returns the raw bytes of the response to write back, or nil if raw
// was a notification (no response is ever sent for those, per JSON-RPC
// 2.0 §4.1).
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(NewError(nil, ErrCodeParseError, "failed to parse JSON-RPC request", nil))
	}
	if req.JSONRPC != Version || req.Method == "" {
		return encode(NewError(req.ID, ErrCodeInvalidRequest, "request must carry jsonrpc=\"2.0\" and a method", nil))
	}

	result, err := d.dispatch(ctx, req.Method, req.Params)
	if req.IsNotification() {
		if err != nil {
			d.logger.Warn("notification handler failed", "method", req.Method, "error", err)
		}
		return nil
	}
	if err != nil {
		return encode(&Response{JSONRPC: Version, ID: req.ID, Error: ErrorFromErr(err)})
	}
	return encode(NewResult(req.ID, result))
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return d.handleInitialize(ctx, params)
	case "tools/list":
		return d.handleToolsList(ctx)
	case "tools/call":
		return d.handleToolsCall(ctx, params)
	case "resources/list":
		return d.handleResourcesList(ctx)
	case "resources/read":
		return d.handleResourcesRead(ctx, params)
	case "resources/subscribe":
		return d.handleResourcesSubscribe(ctx, params)
	case "prompts/list":
		return d.handlePromptsList(ctx)
	case "prompts/get":
		return d.handlePromptsGet(ctx, params)
	default:
		return nil, errs.Newf(errs.CodeMethodNotFound, "unknown method %q", method)
	}
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (d *Dispatcher) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	return initializeResult{
		ProtocolVersion: "2025-03-26",
		ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{"subscribe": true},
			"prompts":   map[string]any{},
		},
	}, nil
}

type toolsListResult struct {
	Tools []toolregistry.ToolDescriptor `json:"tools"`
}

func (d *Dispatcher) handleToolsList(ctx context.Context) (any, error) {
	return toolsListResult{Tools: d.registry.ListTools()}, nil
}

type toolsCallParams struct {
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments"`
	DryRun        bool           `json:"dryRun"`
	CorrelationID string         `json:"correlationId"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidParams, "decoding tools/call params", err)
	}
	if p.Name == "" {
		return nil, errs.New(errs.CodeInvalidParams, "tools/call requires a name")
	}

	caller := identity.FromContext(ctx)
	result, err := d.registry.CallTool(ctx, caller, toolregistry.Call{
		Name:          p.Name,
		Arguments:     p.Arguments,
		DryRun:        p.DryRun,
		CorrelationID: p.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type resourcesListResult struct {
	Resources []toolregistry.ResourceDescriptor `json:"resources"`
}

func (d *Dispatcher) handleResourcesList(ctx context.Context) (any, error) {
	return resourcesListResult{Resources: d.registry.ListResources()}, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesReadResult struct {
	Contents json.RawMessage `json:"contents"`
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, error) {
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidParams, "decoding resources/read params", err)
	}
	if p.URI == "" {
		return nil, errs.New(errs.CodeInvalidParams, "resources/read requires a uri")
	}
	contents, err := d.registry.ReadResource(ctx, p.URI)
	if err != nil {
		return nil, err
	}
	return resourcesReadResult{Contents: contents}, nil
}

type resourcesSubscribeParams struct {
	URI string `json:"uri"`
}

// handleResourcesSubscribe acknowledges a subscription request. No change
// notifications are pushed on either transport (stdio or the HTTP handler,
// ServeHTTP), so a subscribed client observes fresh state only by calling
// resources/read again.
func (d *Dispatcher) handleResourcesSubscribe(ctx context.Context, params json.RawMessage) (any, error) {
	var p resourcesSubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidParams, "decoding resources/subscribe params", err)
	}
	if p.URI == "" {
		return nil, errs.New(errs.CodeInvalidParams, "resources/subscribe requires a uri")
	}
	return map[string]bool{"subscribed": true}, nil
}

type promptsListResult struct {
	Prompts []toolregistry.PromptDescriptor `json:"prompts"`
}

func (d *Dispatcher) handlePromptsList(ctx context.Context) (any, error) {
	return promptsListResult{Prompts: d.registry.ListPrompts()}, nil
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

type promptsGetResult struct {
	Description string `json:"description"`
	Messages    []struct {
		Role    string `json:"role"`
		Content struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidParams, "decoding prompts/get params", err)
	}
	if p.Name == "" {
		return nil, errs.New(errs.CodeInvalidParams, "prompts/get requires a name")
	}
	expanded, err := d.registry.GetPrompt(p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}

	var result promptsGetResult
	result.Messages = append(result.Messages, struct {
		Role    string `json:"role"`
		Content struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}{Role: "user", Content: struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: expanded}})
	return result, nil
}

func encode(resp *Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own Response type cannot fail in practice; fall
		// back to a minimal hand-built envelope rather than panicking.
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","error":{"code":%d,"message":"failed to encode response"}}`, ErrCodeInternalError))
	}
	return b
}

// ServeStdio runs the newline-delimited JSON stdio framing: each line
// read from r is one JSON-RPC message, each response is
// written to w followed by a newline. Blocks until r is exhausted or ctx
// is cancelled.
func (d *Dispatcher) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := d.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := w.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("writing stdio response: %w", err)
		}
	}
	return scanner.Err()
}

// ServeHTTP implements the HTTP transport: a single JSON-RPC message per
// POST body, one JSON response per request. SSE-based resource
// push is not implemented (see handleResourcesSubscribe); this handler
// only ever produces the one synchronous response JSON-RPC requires.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := d.Handle(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}
