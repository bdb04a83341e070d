package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

func TestCodeFromErr(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.New(errs.CodeParseError, "x"), ErrCodeParseError},
		{errs.New(errs.CodeInvalidRequest, "x"), ErrCodeInvalidRequest},
		{errs.New(errs.CodeMethodNotFound, "x"), ErrCodeMethodNotFound},
		{errs.New(errs.CodeInvalidParams, "x"), ErrCodeInvalidParams},
		{errs.New(errs.CodeInternalError, "x"), ErrCodeInternalError},
		{errs.New(errs.CodeUnauthorized, "x"), domainErrorBase - 0},
		{errs.New(errs.CodeApprovalTokenExpired, "x"), domainErrorBase - 12},
		{errs.New(errs.CodeQueueSaturated, "x"), domainErrorBase - 25},
		{errors.New("plain"), ErrCodeInternalError},
	}
	for _, c := range cases {
		if got := CodeFromErr(c.err); got != c.want {
			t.Errorf("CodeFromErr(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestDomainCodesStayInReservedRange(t *testing.T) {
	for code, offset := range domainCodeOffsets {
		n := domainErrorBase - offset
		if n > -32000 || n < -32099 {
			t.Errorf("code %s maps to %d, outside the -32000..-32099 reserved range", code, n)
		}
	}
}

func TestErrorFromErrCarriesStableStringCode(t *testing.T) {
	obj := ErrorFromErr(errs.New(errs.CodeDeviceNotFound, "device not found"))
	if obj.Code != domainErrorBase-6 {
		t.Fatalf("numeric code = %d", obj.Code)
	}
	data, ok := obj.Data.(map[string]any)
	if !ok || data["code"] != "DeviceNotFound" {
		t.Fatalf("Data = %#v, want stable string code", obj.Data)
	}
}

func TestIsNotification(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"ping"}`), &req); err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatal("request without id must be a notification")
	}
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.IsNotification() {
		t.Fatal("request with id must not be a notification")
	}
}
