package relay

import (
	"io"
	"net/http"

	"github.com/neboloop/cdprelay/internal/httputil"
)

const mcpLogBodyLimit = 64 * 1024

// handleVersion reports relay identity and lifecycle state, used by tooling
// to distinguish a relay that isn't listening from one that is listening but
// still starting up.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.OkJSON(w, map[string]any{
		"product": "cdp-relay",
		"version": "1.0",
		"state":   s.State().String(),
	})
}

// handleExtensionStatus reports whether an extension is currently attached
// and the current target table snapshot.
func (s *Server) handleExtensionStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connected := s.ext != nil
	s.mu.RUnlock()

	snapshot := s.targets.snapshot()
	targets := make([]map[string]any, 0, len(snapshot))
	for _, t := range snapshot {
		targets = append(targets, targetInfoJSON(t))
	}

	httputil.OkJSON(w, map[string]any{
		"connected": connected,
		"targets":   targets,
	})
}

// handleHealthz is a bare liveness probe for process supervisors, distinct
// from handleExtensionStatus which reports extension-specific health.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.State() != StateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleMcpLog accepts a small JSON status payload from out-of-process
// tooling (e.g. an MCP server driving a CDP client against this relay) and
// logs it at info. It is rate-limited; the body is never forwarded anywhere,
// only logged, so it carries no routing or correlation semantics.
func (s *Server) handleMcpLog(w http.ResponseWriter, r *http.Request) {
	if s.mcpLog != nil && !s.mcpLog.allow() {
		httputil.ErrorWithCode(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, mcpLogBodyLimit+1))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if len(body) > mcpLogBodyLimit {
		httputil.ErrorWithCode(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	s.log.Info("mcp-log", "remote", r.RemoteAddr, "body", string(body))
	w.WriteHeader(http.StatusNoContent)
}
