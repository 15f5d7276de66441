package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// extensionConn is the single privileged upstream connection. epoch is
// bumped on every new admission; pending requests and writer failures are
// only honored when they match the current epoch, so a superseded
// connection cannot affect the one that replaced it.
type extensionConn struct {
	ws     *websocket.Conn
	writer *socketWriter
	epoch  uint64
}

// handleExtensionWS upgrades and services a connection on /extension. Only
// an Origin on the configured allow-list is admitted; requests with no
// Origin are rejected (browsers always send one; extensions always send
// chrome-extension://<id>).
func (s *Server) handleExtensionWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limit != nil && !s.limit.allow(ip) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" || !s.originAllowed(origin) {
		if s.limit != nil {
			s.limit.recordFailure(ip)
		}
		s.log.Info("extension admission rejected", "reason", "bad_origin", "origin", origin)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("extension upgrade failed", "error", err)
		return
	}

	epoch := s.supersedeExtension(ws)
	s.log.Info("extension connected", "epoch", epoch, "remote", r.RemoteAddr)

	s.broadcastTargetSnapshot()

	pingTicker := time.NewTicker(5 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			s.mu.RLock()
			cur := s.ext
			s.mu.RUnlock()
			if cur == nil || cur.epoch != epoch {
				return
			}
			cur.writer.enqueue(map[string]string{"method": "ping"})
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		s.handleExtensionMessage(epoch, data)
	}

	s.disconnectExtension(epoch)
}

// supersedeExtension atomically swaps in the new connection under the server
// lock so no reader can observe a half-swapped state, then, after releasing
// the lock, closes and fails out any previous one. The previous connection's loss is handled
// exactly like any other disconnect of the current extension: its pending
// requests are failed, every CDP client is closed with EXTENSION_GONE, and
// the target table is cleared, so no client is left attached to a now-stale
// view of E1's targets once E2 takes over.
func (s *Server) supersedeExtension(ws *websocket.Conn) uint64 {
	s.mu.Lock()
	prev := s.ext
	var epoch uint64 = 1
	if prev != nil {
		epoch = prev.epoch + 1
	}
	conn := &extensionConn{ws: ws, epoch: epoch}
	conn.writer = newSocketWriter(ws, s.cfg.WriteQueueCapacity, func() {
		s.disconnectExtension(conn.epoch)
	})
	s.ext = conn
	s.mu.Unlock()

	if prev != nil {
		s.log.Info("extension superseded", "previous_epoch", prev.epoch, "epoch", epoch)
		closeWithReason(prev.ws, CloseSuperseded)
		prev.writer.stop()
		s.retireExtensionEpoch(prev.epoch)
	}
	return epoch
}

// disconnectExtension handles loss of the extension for any reason: clears
// the slot (only if it still matches epoch, so a stale reader goroutine
// from a superseded connection cannot clobber the new one), then retires
// that epoch exactly as supersedeExtension does for the connection it
// replaces.
func (s *Server) disconnectExtension(epoch uint64) {
	s.mu.Lock()
	if s.ext == nil || s.ext.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.ext.writer.stop()
	s.ext = nil
	s.mu.Unlock()

	s.log.Info("extension disconnected", "epoch", epoch)
	s.retireExtensionEpoch(epoch)
}

// retireExtensionEpoch fails every pending request belonging to epoch,
// clears the target table, and closes every CDP client with EXTENSION_GONE.
// Shared by supersedeExtension (the connection being replaced) and
// disconnectExtension (the connection that just dropped), since both mean
// the same thing to connected clients: their upstream is gone.
func (s *Server) retireExtensionEpoch(epoch uint64) {
	s.mu.Lock()
	clients := make([]*clientSession, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.pending.cancelEpoch(epoch)
	s.targets.reset()

	for _, c := range clients {
		s.closeClient(c, CloseGone)
	}
}

func (s *Server) extensionConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ext != nil
}

func (s *Server) currentExtension() *extensionConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ext
}

// forwardToExtension assigns a relay id and writes the command to the
// current extension connection, returning an error immediately if none is
// connected — no timer is armed in that case.
func (s *Server) forwardToExtension(clientID string, cmd *clientCommand) (any, error) {
	ext := s.currentExtension()
	if ext == nil {
		return nil, errExtensionNotConnected
	}

	req := s.pending.register(clientID, cmd.ID, cmd.Method, cmd.SessionID, ext.epoch)

	wire := &extensionCommand{
		ID:     req.relayID,
		Method: "forwardCDPCommand",
		Params: &extensionCommandParams{
			Method:    cmd.Method,
			Params:    cmd.Params,
			SessionID: cmd.SessionID,
		},
	}

	if !ext.writer.enqueue(wire) {
		s.pending.takeIfPresent(req.relayID)
		return nil, errExtensionNotConnected
	}

	res := <-req.resultCh
	return res.result, res.err
}

// handleExtensionMessage demultiplexes a raw frame from the extension:
// responses go to the correlator, events update the target table and fan
// out to clients.
func (s *Server) handleExtensionMessage(epoch uint64, data []byte) {
	frame, err := decodeExtensionFrame(data)
	if err != nil {
		s.log.Debug("malformed extension frame", "error", err)
		return
	}

	switch frame.kind {
	case extensionFrameResponse:
		resp := frame.response
		if ok := s.pending.resolve(resp.ID, resp.Result, resp.Error); !ok && s.cfg.LogDroppedResponses {
			s.log.Debug("dropped late extension response", "id", resp.ID)
		}
	case extensionFrameEvent:
		s.handleExtensionEvent(epoch, frame.event)
	}
}

func (s *Server) handleExtensionEvent(epoch uint64, evt extensionEvent) {
	if evt.Method == "pong" {
		return
	}
	if evt.Method != "forwardCDPEvent" || evt.Params == nil {
		return
	}

	method := evt.Params.Method
	params := evt.Params.Params
	sessionID := evt.Params.SessionID

	// Target.attachedToTarget/detachedFromTarget are browser-level discovery
	// signals: at the moment they arrive no client has an attachment record
	// for the sessionId yet (attachedToTarget is how one is established), so
	// they are broadcast with no top-level sessionId, like
	// Target.targetCreated. Only events genuinely scoped to an established
	// session are routed by sessionAttach.
	switch method {
	case "Target.attachedToTarget":
		s.onTargetAttached(params)
		sessionID = ""
	case "Target.detachedFromTarget":
		s.onTargetDetached(params)
		sessionID = ""
	case "Target.targetCreated":
		s.onTargetCreated(params)
	case "Target.targetInfoChanged":
		s.onTargetInfoChanged(params)
	case "Target.targetDestroyed":
		s.onTargetDestroyed(params)
	}

	s.broadcastOrRoute(&clientEvent{Method: method, Params: params, SessionID: sessionID})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins() {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) allowedOrigins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ExtensionOrigins
}

// broadcastTargetSnapshot sends a synthetic Target.targetCreated per
// currently known target to every client, used right after a (re)connect.
// On first connect the table is empty, so this is a no-op.
func (s *Server) broadcastTargetSnapshot() {
	for _, t := range s.targets.snapshot() {
		s.broadcastOrRoute(&clientEvent{
			Method: "Target.targetCreated",
			Params: map[string]any{"targetInfo": targetInfoJSON(t)},
		})
	}
}

func targetInfoJSON(t *TargetInfo) map[string]any {
	m := map[string]any{
		"targetId": t.TargetID,
		"type":     t.Type,
		"title":    t.Title,
		"url":      t.URL,
		"attached": t.Attached,
	}
	if t.BrowserContextID != "" {
		m["browserContextId"] = t.BrowserContextID
	}
	return m
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
