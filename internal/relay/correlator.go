package relay

import (
	"fmt"
	"sync"
	"time"
)

// pendingRequest is one in-flight command forwarded to the extension.
type pendingRequest struct {
	relayID     uint64
	clientID    string // empty for internally issued requests
	clientReqID uint64
	method      string
	sessionID   string
	epoch       uint64
	timer       *time.Timer
	resultCh    chan correlatorResult
}

type correlatorResult struct {
	result any
	err    error
}

// correlator assigns relay-local ids to extension-bound requests and holds
// the table of requests awaiting a response, a timeout, or cancellation on
// extension disconnect. Exactly one terminal signal ever fires per entry;
// firing removes the entry under the same lock that would otherwise race a
// concurrent timeout/disconnect.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
	timeout time.Duration
}

func newCorrelator(timeout time.Duration) *correlator {
	return &correlator{
		pending: make(map[uint64]*pendingRequest),
		timeout: timeout,
	}
}

// register allocates a relay id, stores the pending entry, and arms its
// timeout timer. If no response or cancellation beats the timer, the entry
// is removed and a timeout error is pushed onto its resultCh, which is the
// only place register's caller blocks waiting for a terminal signal.
func (c *correlator) register(clientID string, clientReqID uint64, method, sessionID string, epoch uint64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	req := &pendingRequest{
		relayID:     id,
		clientID:    clientID,
		clientReqID: clientReqID,
		method:      method,
		sessionID:   sessionID,
		epoch:       epoch,
		resultCh:    make(chan correlatorResult, 1),
	}
	req.timer = time.AfterFunc(c.timeout, func() {
		if removed := c.takeIfPresent(id); removed != nil {
			removed.resultCh <- correlatorResult{
				err: newKindError(KindTimeout, c.timeoutMessage(removed.method, c.timeout)),
			}
		}
	})
	c.pending[id] = req
	return req
}

// takeIfPresent atomically removes and returns the entry if still present,
// or nil if it already fired (response beat the timer, or vice versa).
func (c *correlator) takeIfPresent(id uint64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return req
}

// resolve delivers a response to the pending request, if it is still
// present. Returns false for late/unknown ids (discarded per spec).
func (c *correlator) resolve(id uint64, result any, errMsg string) bool {
	req := c.takeIfPresent(id)
	if req == nil {
		return false
	}
	req.timer.Stop()
	if errMsg != "" {
		req.resultCh <- correlatorResult{err: fmt.Errorf("%s", errMsg)}
	} else {
		req.resultCh <- correlatorResult{result: result}
	}
	return true
}

// cancelEpoch fails every pending request belonging to the given epoch with
// the upstream-gone error, used on extension disconnect.
func (c *correlator) cancelEpoch(epoch uint64) []*pendingRequest {
	c.mu.Lock()
	var victims []*pendingRequest
	for id, req := range c.pending {
		if req.epoch == epoch {
			req.timer.Stop()
			delete(c.pending, id)
			victims = append(victims, req)
		}
	}
	c.mu.Unlock()

	for _, req := range victims {
		req.resultCh <- correlatorResult{err: errExtensionNotConnected}
	}
	return victims
}

// cancelClient drops every pending request originated by clientID without
// signaling an error — the socket is already gone, so no one is listening.
func (c *correlator) cancelClient(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, req := range c.pending {
		if req.clientID == clientID {
			req.timer.Stop()
			delete(c.pending, id)
		}
	}
}

func (c *correlator) timeoutMessage(method string, timeout time.Duration) string {
	return fmt.Sprintf("Extension request timeout after %dms: %s", timeout.Milliseconds(), method)
}
