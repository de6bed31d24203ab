package rpc

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRequestSerialization(t *testing.T) {
	req := &Request{
		JSONRPC: "2.0",
		Method:  "server.status",
		Params:  map[string]interface{}{"test": "value"},
		ID:      1,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal request: %v", err)
	}

	if decoded.JSONRPC != "2.0" {
		t.Errorf("expected JSONRPC 2.0, got %s", decoded.JSONRPC)
	}
	if decoded.Method != "server.status" {
		t.Errorf("expected method server.status, got %s", decoded.Method)
	}
}

func TestResponseSerialization(t *testing.T) {
	resp := &Response{
		JSONRPC: "2.0",
		Result:  map[string]interface{}{"pubkey": "abc"},
		ID:      1,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if decoded.JSONRPC != "2.0" {
		t.Errorf("expected JSONRPC 2.0, got %s", decoded.JSONRPC)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := &Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    ErrCodeMethodNotFound,
			Message: "method not found",
		},
		ID: 1,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal error response: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal error response: %v", err)
	}

	if decoded.Error == nil {
		t.Fatal("expected error to be present")
	}
	if decoded.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("expected error code %d, got %d", ErrCodeMethodNotFound, decoded.Error.Code)
	}
}

func TestServerStatusResult(t *testing.T) {
	result := &ServerStatusResult{
		PublicKey: "test-key",
		Uptime:    5 * time.Minute,
		TCPServed: 42,
		UDPServed: 7,
		Version:   "test",
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var decoded ServerStatusResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if decoded.PublicKey != "test-key" {
		t.Errorf("expected pubkey test-key, got %s", decoded.PublicKey)
	}
	if decoded.TCPServed != 42 {
		t.Errorf("expected 42 tcp served, got %d", decoded.TCPServed)
	}
}

func TestServerPingResult(t *testing.T) {
	result := &ServerPingResult{Pong: true, Version: "test"}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var decoded ServerPingResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if !decoded.Pong {
		t.Error("expected pong to be true")
	}
}
