// Package tunnel defines the wire protocol exchanged between the broker
// and the local tunnel agent over a single multiplexed WebSocket
// connection.
package tunnel

import "encoding/json"

// FrameType discriminates the Frame union.
type FrameType string

const (
	// FrameAuth is the first frame the agent sends, carrying its tunnel JWT.
	FrameAuth FrameType = "auth"
	// FrameOpen has no current emitter; reserved for explicit per-id
	// stream setup if a future frame type needs it ahead of FrameRequest.
	FrameOpen FrameType = "open"
	// FrameClose cancels the in-flight work for an id (e.g. the
	// originating HTTP socket closed).
	FrameClose FrameType = "close"
	// FrameRequest carries an inbound HTTP request to be replayed against
	// the agent's local server.
	FrameRequest FrameType = "request"
	// FrameResponse carries the agent's reply to a FrameRequest, possibly
	// chunked (Final=false until the last chunk).
	FrameResponse FrameType = "response"
	// FrameData carries a chunk of a request or response body, correlated
	// by id with the FrameRequest/FrameResponse that opened it.
	FrameData FrameType = "data"
	// FrameError reports a protocol-level failure not tied to an HTTP
	// response (e.g. malformed frame, unknown id).
	FrameError FrameType = "error"
	// FrameExposedPorts announces the set of ports the agent currently has
	// listening locally.
	FrameExposedPorts FrameType = "exposed_ports"
	// FramePing/FramePong are the liveness heartbeat exchanged by both
	// sides on an idle connection.
	FramePing FrameType = "ping"
	FramePong FrameType = "pong"
)

// Frame is the single envelope type multiplexed over the tunnel
// connection. Fields are a union over FrameType; unused fields are
// omitted on the wire.
type Frame struct {
	Type   FrameType `json:"type"`
	ID     string    `json:"id,omitempty"` // correlates a response to its request

	// FrameRequest / FrameResponse
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Port       int               `json:"port,omitempty"`
	Data       []byte            `json:"data,omitempty"`
	Final      bool              `json:"final,omitempty"`

	// FrameExposedPorts
	ExposedPorts []ExposedPortAnnouncement `json:"exposedPorts,omitempty"`
	ServiceName  string                    `json:"serviceName,omitempty"`

	// FrameAuth
	Token string `json:"token,omitempty"`

	// FrameError
	Error string `json:"error,omitempty"`

	TimestampUnixMilli int64 `json:"timestamp,omitempty"`
}

// ExposedPortAnnouncement is one entry of a FrameExposedPorts frame.
type ExposedPortAnnouncement struct {
	Port        int    `json:"port"`
	Description string `json:"description,omitempty"`
}

// Marshal serializes the frame for transmission.
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame parses a frame received off the wire.
func UnmarshalFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
