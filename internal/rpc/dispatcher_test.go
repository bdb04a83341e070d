package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/wrenops/netguard-mcp/pkg/toolregistry"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	registry := toolregistry.New(nil, nil, nil, nil, nil, "")
	registry.RegisterTool(toolregistry.Tool{
		Name: "fleet_overview",
		Tier: toolregistry.TierFundamental,
		Handler: func(ctx context.Context, args map[string]any) (*toolregistry.Result, error) {
			return toolregistry.TextResult("2 devices"), nil
		},
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(registry, logger)
}

func decodeResponse(t *testing.T, raw []byte) *Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decoding response %s: %v", raw, err)
	}
	return &resp
}

func TestHandleParseError(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte("{not json")))
	if resp.Error == nil || resp.Error.Code != ErrCodeParseError {
		t.Fatalf("Handle(garbage) = %+v, want parse error", resp)
	}
}

func TestHandleInvalidRequest(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte(`{"id":1,"method":"tools/list"}`)))
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("Handle(missing jsonrpc) = %+v, want invalid request", resp)
	}
}

func TestHandleMethodNotFound(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"nope"}`)))
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("Handle(unknown method) = %+v, want method not found", resp)
	}
}

func TestHandleNotificationProducesNoResponse(t *testing.T) {
	d := testDispatcher(t)
	if out := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list"}`)); out != nil {
		t.Fatalf("notification produced a response: %s", out)
	}
}

func TestHandleInitialize(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"initialize"}`)))
	if resp.Error != nil {
		t.Fatalf("initialize returned error %+v", resp.Error)
	}
	result, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(result, []byte(serverName)) {
		t.Fatalf("initialize result %s does not carry the server name", result)
	}
}

func TestHandleToolsList(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	if resp.Error != nil {
		t.Fatalf("tools/list returned error %+v", resp.Error)
	}
	result, _ := json.Marshal(resp.Result)
	if !bytes.Contains(result, []byte("fleet_overview")) {
		t.Fatalf("tools/list result %s missing registered tool", result)
	}
}

func TestHandleToolsCallRequiresName(t *testing.T) {
	d := testDispatcher(t)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{}}`)))
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Fatalf("tools/call without name = %+v, want invalid params", resp)
	}
}

func TestServeStdioRoundTrip(t *testing.T) {
	d := testDispatcher(t)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	if err := d.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}

	line := strings.TrimSpace(out.String())
	resp := decodeResponse(t, []byte(line))
	if resp.Error != nil {
		t.Fatalf("stdio response carries error %+v", resp.Error)
	}
}
