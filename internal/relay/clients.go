package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/cdprelay/internal/events"
)

type clientState int32

const (
	clientOpen clientState = iota
	clientClosing
	clientClosed
)

// clientSession is one accepted CDP client socket. It exists only while its
// transport is open and the extension is connected; on extension loss it is
// closed by the server, not by itself.
type clientSession struct {
	id     string
	ws     *websocket.Conn
	writer *socketWriter
	sub    events.Subscription

	mu    chan struct{} // 1-buffered mutex-as-channel guarding state transitions
	state clientState
}

func newClientSession(id string, ws *websocket.Conn, writer *socketWriter) *clientSession {
	c := &clientSession{id: id, ws: ws, writer: writer, mu: make(chan struct{}, 1), state: clientOpen}
	c.mu <- struct{}{}
	return c
}

func (c *clientSession) transition(to clientState) bool {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	if c.state == clientClosed || (c.state == clientClosing && to == clientClosing) {
		return false
	}
	c.state = to
	return true
}

// handleCdpWS upgrades and services a connection on /cdp or /cdp/{clientID}.
// When a bearer token is configured it is required unless the peer is
// loopback and sends no Origin header; the extension must already be
// connected.
func (s *Server) handleCdpWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limit != nil && !s.limit.allow(ip) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	if !s.clientAdmitted(r) {
		if s.limit != nil {
			s.limit.recordFailure(ip)
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.extensionConnected() {
		http.Error(w, "Chrome extension not connected", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("cdp client upgrade failed", "error", err)
		return
	}

	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	writer := newSocketWriter(ws, s.cfg.WriteQueueCapacity, func() {
		s.log.Info("cdp client closed", "client", truncateID(clientID), "reason", CloseSlow)
		s.dropClient(clientID)
	})
	session := newClientSession(clientID, ws, writer)

	sub := events.Subscribe[any](s.bus, events.ClientTopic(clientID), func(_ context.Context, msg any) error {
		session.writer.enqueue(msg)
		return nil
	})
	session.sub = sub

	s.mu.Lock()
	s.clients[clientID] = session
	s.mu.Unlock()

	s.log.Info("cdp client connected", "client", truncateID(clientID))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Debug("malformed client frame", "client", truncateID(clientID), "error", err)
			continue
		}
		s.handleClientCommand(clientID, &cmd)
	}

	s.dropClient(clientID)
}

// clientAdmitted implements the /cdp admission policy: with no bearer token
// configured everyone is admitted; otherwise a peer needs a matching token
// unless it is loopback and sends no Origin header.
func (s *Server) clientAdmitted(r *http.Request) bool {
	token := s.cfg.BearerToken
	if token == "" {
		return true
	}

	supplied := bearerFromRequest(r)
	if constantTimeEqual(supplied, token) {
		return true
	}

	if isLoopback(clientIP(r)) && r.Header.Get("Origin") == "" {
		return true
	}
	return false
}

func bearerFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleClientCommand dispatches a command from clientID: intercepted
// methods are answered locally, everything else is forwarded to the
// extension. The response is always sent back before any events the relay
// itself synthesizes as a side effect (e.g. Target.attachedToTarget after a
// successful attach).
func (s *Server) handleClientCommand(clientID string, cmd *clientCommand) {
	s.audit.logCommand(clientID, cmd.Method, cmd.SessionID)

	result, err, postEvents := s.intercept(clientID, cmd)
	if !handled(cmd.Method) {
		result, err = s.forwardToExtension(clientID, cmd)
	}

	s.sendClientResult(clientID, cmd.ID, cmd.SessionID, result, err)

	for _, evt := range postEvents {
		s.routeToClient(clientID, evt)
	}
}

func (s *Server) sendClientResult(clientID string, reqID uint64, sessionID string, result any, err error) {
	resp := &clientResponse{ID: reqID, SessionID: sessionID}
	if err != nil {
		resp.Error = &clientError{Message: err.Error()}
	} else {
		resp.Result = result
	}
	s.routeToClient(clientID, resp)
}

func (s *Server) routeToClient(clientID string, msg any) {
	_ = events.Emit[any](s.bus, events.ClientTopic(clientID), msg)
}

// broadcastOrRoute delivers an extension-originated event: events without a
// sessionId are broadcast to every client; events with one go only to
// clients attached to that session.
func (s *Server) broadcastOrRoute(evt *clientEvent) {
	s.mu.RLock()
	var ids []string
	if evt.SessionID == "" {
		ids = make([]string, 0, len(s.clients))
		for id := range s.clients {
			ids = append(ids, id)
		}
	} else {
		attached := s.sessionAttach[evt.SessionID]
		ids = make([]string, 0, len(attached))
		for id := range attached {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.routeToClient(id, evt)
	}
}

// attachSession records that clientID has attached to sessionID.
func (s *Server) attachSession(clientID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionAttach[sessionID] == nil {
		s.sessionAttach[sessionID] = make(map[string]bool)
	}
	s.sessionAttach[sessionID][clientID] = true
}

// detachClientSessions removes every attachment belonging to clientID,
// called when the client disconnects.
func (s *Server) detachClientSessions(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, clients := range s.sessionAttach {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(s.sessionAttach, sessionID)
		}
	}
}

// detachSession removes every attachment for sessionID, called when the
// extension reports Target.detachedFromTarget.
func (s *Server) detachSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessionAttach, sessionID)
}

func (s *Server) dropClient(clientID string) {
	s.mu.Lock()
	session, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	session.transition(clientClosing)
	s.pending.cancelClient(clientID)
	s.detachClientSessions(clientID)
	session.sub.Unsubscribe()
	session.writer.stop()
	session.transition(clientClosed)
	s.log.Info("cdp client disconnected", "client", truncateID(clientID))
}

func (s *Server) closeClient(session *clientSession, reason string) {
	if !session.transition(clientClosing) {
		return
	}
	s.mu.Lock()
	delete(s.clients, session.id)
	s.mu.Unlock()

	s.pending.cancelClient(session.id)
	s.detachClientSessions(session.id)
	session.sub.Unsubscribe()
	closeWithReason(session.ws, reason)
	session.writer.stop()
	session.transition(clientClosed)
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || strings.HasPrefix(ip, "127.") || ip == "::1" || ip == "localhost"
}
