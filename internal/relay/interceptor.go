package relay

import (
	"crypto/subtle"
	"fmt"
)

// interceptedMethods lists the CDP methods answered locally instead of being
// forwarded to the extension. Target.setAutoAttach is deliberately absent:
// per design it is forwarded to the extension like any other command, but
// still gets the synthesized existing-target events below.
var interceptedMethods = map[string]bool{
	"Target.getTargets":         true,
	"Target.getTargetInfo":      true,
	"Target.setDiscoverTargets": true,
	"Target.attachToTarget":     true,
	"Browser.getVersion":        true,
}

// handled reports whether method is answered locally. handleClientCommand
// forwards to the extension whenever this is false.
func handled(method string) bool {
	return interceptedMethods[method]
}

// intercept answers the small set of methods the relay can satisfy without
// involving the extension, and additionally synthesizes postEvents (sent to
// the requesting client only, after the command's own response) for methods
// that establish a view of targets already known to the relay.
//
// Target.setDiscoverTargets is answered locally with an empty result, plus
// postEvents when discover is true. For Target.setAutoAttach the caller
// forwards the command itself; intercept only contributes postEvents. Either
// way a client that enables discovery or auto-attach after targets already
// exist still learns about them.
func (s *Server) intercept(clientID string, cmd *clientCommand) (result any, err error, postEvents []any) {
	switch cmd.Method {
	case "Target.getTargets":
		return s.interceptGetTargets(), nil, nil

	case "Target.getTargetInfo":
		return s.interceptGetTargetInfo(cmd.Params), nil, nil

	case "Target.setDiscoverTargets":
		if wantsDiscovery(cmd.Params) {
			postEvents = s.existingTargetEvents()
		}
		return map[string]any{}, nil, postEvents

	case "Target.setAutoAttach":
		return nil, nil, s.existingTargetEvents()

	case "Target.attachToTarget":
		return s.interceptAttachToTarget(clientID, cmd.Params)

	case "Browser.getVersion":
		return s.interceptGetVersion(), nil, nil
	}
	return nil, nil, nil
}

func (s *Server) interceptGetTargets() map[string]any {
	snapshot := s.targets.snapshot()
	infos := make([]map[string]any, 0, len(snapshot))
	for _, t := range snapshot {
		infos = append(infos, targetInfoJSON(t))
	}
	return map[string]any{"targetInfos": infos}
}

// interceptGetTargetInfo never errors for an unknown targetId; it reports a
// null targetInfo instead, matching how the extension's own Chrome DevTools
// backend behaves for a target that has already closed.
func (s *Server) interceptGetTargetInfo(params any) map[string]any {
	m, _ := asMap(params)
	targetID := stringField(m, "targetId")
	if targetID == "" {
		return map[string]any{"targetInfo": nil}
	}
	t, ok := s.targets.byID(targetID)
	if !ok {
		return map[string]any{"targetInfo": nil}
	}
	return map[string]any{"targetInfo": targetInfoJSON(t)}
}

func (s *Server) interceptAttachToTarget(clientID string, params any) (any, error, []any) {
	m, _ := asMap(params)
	targetID := stringField(m, "targetId")
	if targetID == "" {
		return nil, newKindError(KindProtocol, "targetId is required for Target.attachToTarget"), nil
	}

	t, ok := s.targets.byID(targetID)
	if !ok {
		return nil, newKindError(KindRouting, fmt.Sprintf("Target %s not found in connected targets", targetID)), nil
	}

	sessionID := t.SessionID
	if sessionID == "" {
		return nil, newKindError(KindRouting, fmt.Sprintf("Target %s not found in connected targets", targetID)), nil
	}

	s.attachSession(clientID, sessionID)

	postEvent := &clientEvent{
		Method: "Target.attachedToTarget",
		Params: map[string]any{
			"sessionId":          sessionID,
			"targetInfo":         targetInfoJSON(t),
			"waitingForDebugger": false,
		},
	}
	return map[string]any{"sessionId": sessionID}, nil, []any{postEvent}
}

func (s *Server) interceptGetVersion() map[string]any {
	return map[string]any{
		"protocolVersion": "1.3",
		"product":         "cdp-relay",
		"userAgent":       "cdp-relay",
		"jsVersion":       "",
	}
}

// existingTargetEvents synthesizes one Target.attachedToTarget per currently
// attached target, so a client enabling discovery or auto-attach after the
// fact learns about targets that were attached before it asked.
func (s *Server) existingTargetEvents() []any {
	var events []any
	for _, t := range s.targets.snapshot() {
		if !t.Attached || t.SessionID == "" {
			continue
		}
		events = append(events, &clientEvent{
			Method: "Target.attachedToTarget",
			Params: map[string]any{
				"sessionId":          t.SessionID,
				"targetInfo":         targetInfoJSON(t),
				"waitingForDebugger": false,
			},
		})
	}
	return events
}

func wantsDiscovery(params any) bool {
	m, _ := asMap(params)
	return boolField(m, "discover")
}

// constantTimeEqual compares two bearer tokens without leaking timing
// information about where they first differ.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
