package relay

import "encoding/json"

// clientCommand is a CDP request arriving from a client socket.
type clientCommand struct {
	ID        uint64 `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// clientResponse is a CDP response sent to a client socket. ID is always the
// client's own id, never the relay-assigned one.
type clientResponse struct {
	ID        uint64       `json:"id"`
	Result    any          `json:"result,omitempty"`
	Error     *clientError `json:"error,omitempty"`
	SessionID string       `json:"sessionId,omitempty"`
}

type clientError struct {
	Message string `json:"message"`
}

// clientEvent is a CDP event broadcast or routed to a client socket.
type clientEvent struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// extensionCommand is the envelope the relay sends to the extension to
// forward a CDP command.
type extensionCommand struct {
	ID     uint64                  `json:"id"`
	Method string                  `json:"method"`
	Params *extensionCommandParams `json:"params,omitempty"`
}

type extensionCommandParams struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// extensionFrameKind distinguishes the two shapes the extension may send.
type extensionFrameKind int

const (
	extensionFrameUnknown extensionFrameKind = iota
	extensionFrameResponse
	extensionFrameEvent
)

// extensionFrame is the tagged-sum-type decoding of a raw extension message:
// exactly one of response/event is meaningful, selected by kind.
type extensionFrame struct {
	kind     extensionFrameKind
	response extensionResponse
	event    extensionEvent
}

type extensionResponse struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type extensionEvent struct {
	Method string                `json:"method"`
	Params *extensionEventParams `json:"params,omitempty"`
}

type extensionEventParams struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// decodeExtensionFrame classifies a raw extension message. A message with a
// positive "id" field is a response; otherwise it is treated as an event.
// "pong" keepalive replies decode as an event with Method "pong" and are
// filtered by the caller.
func decodeExtensionFrame(data []byte) (extensionFrame, error) {
	var probe struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return extensionFrame{}, err
	}
	if probe.ID != nil && *probe.ID > 0 {
		var resp extensionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return extensionFrame{}, err
		}
		return extensionFrame{kind: extensionFrameResponse, response: resp}, nil
	}
	var evt extensionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return extensionFrame{}, err
	}
	return extensionFrame{kind: extensionFrameEvent, event: evt}, nil
}

// asMap is a convenience accessor for the duck-typed params CDP sends.
func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
