package events

import "fmt"

// TopicTargetBroadcast names a topic for CDP events without a sessionId. The
// relay does not emit on it: it delivers such events to every connected
// client through each client's ClientTopic.
const TopicTargetBroadcast = "cdp.broadcast"

// ClientTopic returns the per-client topic used to route every message bound
// for exactly one client socket: command responses, session-scoped events,
// and that client's copy of broadcast events.
func ClientTopic(clientID string) string {
	return fmt.Sprintf("cdp.client.%s", clientID)
}
