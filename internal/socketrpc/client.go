package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

// Client talks to the control socket using JSON-RPC 2.0. It is used by
// the CLI status flags.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// Status returns the engine's enablement, tracked metrics and
// scheduler bookkeeping.
func (c *Client) Status() (StatusResult, error) {
	var result StatusResult
	err := c.call("Status", map[string]interface{}{}, &result)
	return result, err
}

// Insights returns the current materialized snapshot.
func (c *Client) Insights() (*model.InsightSnapshot, error) {
	var result model.InsightSnapshot
	if err := c.call("Insights", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Alerts returns up to limit recent alerts, newest first. A
// non-positive limit uses the server default.
func (c *Client) Alerts(limit int) ([]model.AlertEvent, error) {
	var result []model.AlertEvent
	err := c.call("Alerts", map[string]interface{}{"Limit": limit}, &result)
	return result, err
}

// Generate asks the server to materialize, persist and publish a
// snapshot now, and returns it.
func (c *Client) Generate() (*model.InsightSnapshot, error) {
	var result model.InsightSnapshot
	if err := c.call("Generate", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
