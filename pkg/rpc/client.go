package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
)

// The JSON-RPC methods an rzvserver exposes over its Unix socket.
const (
	methodServerStatus = "server.status"
	methodServerPing   = "server.ping"
)

// Client is an RPC client that connects to a rendezvous server via Unix
// socket.
type Client struct {
	socketPath string
	conn       net.Conn
	nextID     atomic.Int64
}

// NewClient creates a new RPC client connected to the given socket path,
// i.e. a running rzvserver's rpc.Server.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}

	client := &Client{
		socketPath: socketPath,
		conn:       conn,
	}
	client.nextID.Store(1)

	return client, nil
}

// Call makes an RPC call to the server and returns its raw, untyped
// result. ServerStatus and ServerPing are the typed wrappers most callers
// want instead.
func (c *Client) Call(method string, params map[string]interface{}) (interface{}, error) {
	// Build request
	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	// Encode request
	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	// Send request (line-delimited JSON)
	if _, err := c.conn.Write(append(reqData, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	reader := bufio.NewReader(c.conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Decode response
	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Check for errors
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return resp.Result, nil
}

// ServerStatus calls server.status and decodes the result into a
// ServerStatusResult, so callers don't have to type-assert Call's
// map[string]interface{} themselves.
func (c *Client) ServerStatus() (*ServerStatusResult, error) {
	raw, err := c.Call(methodServerStatus, nil)
	if err != nil {
		return nil, err
	}
	var status ServerStatusResult
	if err := decodeResult(raw, &status); err != nil {
		return nil, fmt.Errorf("failed to decode server.status result: %w", err)
	}
	return &status, nil
}

// ServerPing calls server.ping and decodes the result into a
// ServerPingResult.
func (c *Client) ServerPing() (*ServerPingResult, error) {
	raw, err := c.Call(methodServerPing, nil)
	if err != nil {
		return nil, err
	}
	var pong ServerPingResult
	if err := decodeResult(raw, &pong); err != nil {
		return nil, fmt.Errorf("failed to decode server.ping result: %w", err)
	}
	return &pong, nil
}

// decodeResult round-trips an already-unmarshalled interface{} (typically
// a map[string]interface{} from encoding/json) through JSON again to
// populate a typed destination struct.
func decodeResult(raw interface{}, dst interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
