package rpc

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClientServerIntegration(t *testing.T) {
	// Unix socket paths are limited to ~104 chars on macOS. Use /tmp directly
	// with a short unique name rather than t.TempDir() which produces long paths.
	socketPath := filepath.Join(os.TempDir(), fmt.Sprintf("rzv-rpc-%d.sock", os.Getpid()))
	t.Cleanup(func() { os.Remove(socketPath) })

	mockStatus := &StatusData{
		PublicKey:   "local-pubkey-xyz789",
		Uptime:      5 * time.Minute,
		TCPServed:   12,
		UDPServed:   4,
		TCPRejected: 1,
	}

	config := ServerConfig{
		SocketPath: socketPath,
		Version:    "test-v1.0",
		GetStatus: func() *StatusData {
			return mockStatus
		},
	}

	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Stop()

	var client *Client
	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		client, err = NewClient(socketPath)
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			t.Fatalf("failed to create client after %d retries: %v", maxRetries, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer client.Close()

	t.Run("server.ping", func(t *testing.T) {
		result, err := client.Call("server.ping", nil)
		if err != nil {
			t.Fatalf("server.ping failed: %v", err)
		}

		resultMap := result.(map[string]interface{})
		if resultMap["pong"] != true {
			t.Error("expected pong to be true")
		}
		if resultMap["version"] != "test-v1.0" {
			t.Errorf("expected version test-v1.0, got %v", resultMap["version"])
		}
	})

	t.Run("server.status", func(t *testing.T) {
		result, err := client.Call("server.status", nil)
		if err != nil {
			t.Fatalf("server.status failed: %v", err)
		}

		status := result.(map[string]interface{})
		if status["pubkey"] != mockStatus.PublicKey {
			t.Errorf("expected pubkey %s, got %v", mockStatus.PublicKey, status["pubkey"])
		}
		if int(status["tcp_served"].(float64)) != 12 {
			t.Errorf("expected 12 tcp served, got %v", status["tcp_served"])
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		_, err := client.Call("invalid.method", nil)
		if err == nil {
			t.Error("expected error for invalid method")
		}
	})

	t.Run("ServerPing typed wrapper", func(t *testing.T) {
		pong, err := client.ServerPing()
		if err != nil {
			t.Fatalf("ServerPing failed: %v", err)
		}
		if !pong.Pong {
			t.Error("expected Pong to be true")
		}
		if pong.Version != "test-v1.0" {
			t.Errorf("expected version test-v1.0, got %s", pong.Version)
		}
	})

	t.Run("ServerStatus typed wrapper", func(t *testing.T) {
		status, err := client.ServerStatus()
		if err != nil {
			t.Fatalf("ServerStatus failed: %v", err)
		}
		if status.PublicKey != mockStatus.PublicKey {
			t.Errorf("expected pubkey %s, got %s", mockStatus.PublicKey, status.PublicKey)
		}
		if status.TCPServed != mockStatus.TCPServed {
			t.Errorf("expected %d tcp served, got %d", mockStatus.TCPServed, status.TCPServed)
		}
		if status.UDPServed != mockStatus.UDPServed {
			t.Errorf("expected %d udp served, got %d", mockStatus.UDPServed, status.UDPServed)
		}
		if status.Uptime != mockStatus.Uptime {
			t.Errorf("expected uptime %s, got %s", mockStatus.Uptime, status.Uptime)
		}
	})
}
