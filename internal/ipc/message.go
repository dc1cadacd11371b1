package ipc

import "github.com/clickwatch/agent/internal/config"

// Message type constants for the three Cmd/Status/Hit/Log queues (§4.4).
const (
	TypeCmdStart        = "cmd_start"
	TypeCmdStop         = "cmd_stop"
	TypeCmdUpdateConfig = "cmd_update_config"
	TypeCmdExit         = "cmd_exit"

	TypeStatus = "status"
	TypeHit    = "hit"
	TypeLog    = "log"
)

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion = 1

// CmdStart starts the worker's scan loop with cfg. Idempotent: if already
// running, the worker no-ops (§4.4's Start semantics).
type CmdStart struct {
	Config config.Config `json:"config"`
}

// CmdUpdateConfig tears down and rebuilds the Capture Backend with a new
// config, reloading templates only if the signature changed.
type CmdUpdateConfig struct {
	Config config.Config `json:"config"`
}

// Status is the worker→host status record (§3's Supervisor Channels),
// a flat record with no pointers per §6's wire-message rule.
type Status struct {
	Running      bool    `json:"running"`
	BackendLabel string  `json:"backendLabel"`
	Detail       string  `json:"detail"`
	ScanCount    uint64  `json:"scanCount"`
	Error        string  `json:"error,omitempty"`
	TimestampMs  int64   `json:"timestampMs"`
	LastScore    float64 `json:"lastScore"`
}

// Hit is the worker→host detection record. X/Y are the click point in
// capture-content coordinates (relative to the captured monitor or window
// content); in window mode they are not translated to screen coordinates.
type Hit struct {
	Score       float64 `json:"score"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	TimestampMs int64   `json:"timestampMs"`
	Template    string  `json:"template,omitempty"`
}

// LogLine is a free-form worker→host log record.
type LogLine struct {
	Level       string `json:"level"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestampMs"`
}
