// Package relay implements a local WebSocket broker that bridges CDP clients
// to a single privileged Chrome-extension upstream.
package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/cdprelay/internal/events"
)

// State is the relay's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Close codes sent to sockets the relay closes itself. These are carried in
// the WebSocket close frame reason, not the numeric close code, since they
// are operator/debugging signals rather than protocol-level codes.
const (
	CloseSuperseded = "SUPERSEDED"
	CloseGone       = "EXTENSION_GONE"
	CloseSlow       = "SLOW_CONSUMER"
	CloseShutdown   = "SHUTDOWN"
)

// Config holds the relay's runtime configuration. Port/Host/
// WriteQueueCapacity are startup-only; BearerToken and ExtensionOrigins are
// safe to hot-reload (cmd/cdprelay watches the config file for just these two).
type Config struct {
	Host                string
	Port                int
	BearerToken         string
	ExtensionOrigins    []string
	RequestTimeout      time.Duration
	WriteQueueCapacity  int
	McpLogRate          float64
	LogDroppedResponses bool
	Logger              *slog.Logger
}

// DefaultConfig returns the built-in defaults, overlaid by file then flags
// in cmd/cdprelay.
func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               9876,
		RequestTimeout:     30 * time.Second,
		WriteQueueCapacity: 64,
		McpLogRate:         60,
		Logger:             slog.Default(),
	}
}

// Server is the singleton relay process state: the extension slot, the
// client registry, the target table, the pending-request table, and
// lifecycle flags.
type Server struct {
	cfg Config
	log *slog.Logger

	mu    sync.RWMutex
	state State

	upgrader websocket.Upgrader

	ext     *extensionConn
	clients map[string]*clientSession

	// sessionAttach tracks which clients have attached to which CDP
	// sessionId, used to route session-scoped events. Guarded by mu.
	sessionAttach map[string]map[string]bool

	targets *targetTable
	pending *correlator
	bus     *events.Subject

	audit  *auditLogger
	limit  *admissionLimiter
	mcpLog *mcpLogLimiter

	httpServer *http.Server
}

// TargetInfo mirrors the CDP TargetInfo shape the relay tracks, plus the
// sessionId the extension attached it under.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
	SessionID        string `json:"-"`
}
