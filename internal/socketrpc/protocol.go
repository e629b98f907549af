package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/sage/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The control socket exposes the insight engine over a Unix domain
// socket. One request per line, one response per line.
//
//   Method      Params          Result
//   ─────────   ─────────────   ──────────────────────
//   Status      (none)          StatusResult
//   Insights    (none)          model.InsightSnapshot
//   Alerts      {Limit: int}    []model.AlertEvent
//   Generate    (none)          model.InsightSnapshot
//
// Alerts accepts empty or null params; Limit defaults to 20. Insights
// and Generate fail with an application error while the engine is
// disabled.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (engine or store failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// StatusResult is the Status method's payload.
type StatusResult struct {
	Enabled        bool                 `json:"enabled"`
	TrackedMetrics []string             `json:"trackedMetrics"`
	Scheduler      model.SchedulerState `json:"scheduler"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/sage/sage.sock, falling back to
// ~/.local/state/sage/sage.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sage", "sage.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sage.sock"
	}
	return filepath.Join(home, ".local", "state", "sage", "sage.sock")
}
