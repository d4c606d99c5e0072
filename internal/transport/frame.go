package transport

import "encoding/json"

// Relay frame types.
const (
	FrameMessage = "msg"
	FrameJoin    = "join"
	FrameLeave   = "leave"
)

// Frame is the websocket wire format between relay clients and the relay
// hub. For FrameJoin and FrameLeave, From names the peer that came or went.
// Data must be valid JSON.
type Frame struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}
