package bridge

import "encoding/json"

// Wire format, one UTF-8 JSON line per record.
//
// Outbound: {"request_id": "...", "command": "...", "params": {...}}
//
// Inbound, three shapes:
//   - a bare line containing "READY" (not JSON) opens the readiness gate
//   - {"request_id": "...", "success": bool, "data": ..., "error": "..."}
//   - {"event": "...", "data": {...}}
//
// Anything else that fails to parse is opaque diagnostic text (QR codes and
// friends) and goes to the log.
type request struct {
	RequestID string         `json:"request_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
}

type inbound struct {
	RequestID string          `json:"request_id,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const readyMarker = "READY"
