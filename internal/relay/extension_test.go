package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testExtensionOrigin = "chrome-extension://testextensionid"

// dialWS connects to a relay route exposed by an httptest.Server, rewriting
// the http(s) URL to ws(s).
func dialWS(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func dialExtension(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", testExtensionOrigin)
	return dialWS(t, srv, "/extension", header)
}

// TestExtensionSupersessionClosesExistingClients connects one extension and
// one CDP client, then connects a second extension on top of it. The first
// extension is superseded; the already-connected CDP client must be closed
// with EXTENSION_GONE rather than left open against a now-stale target
// table, exactly as a raw extension disconnect would close it.
func TestExtensionSupersessionClosesExistingClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExtensionOrigins = []string{testExtensionOrigin}
	s := NewServer(cfg)
	srv := httptest.NewServer(s.router())
	defer srv.Close()

	ext1 := dialExtension(t, srv)
	defer ext1.Close()

	// Give handleExtensionWS's read loop a moment to register the connection
	// before the client dials, so extensionConnected() reports true.
	waitUntil(t, func() bool { return s.extensionConnected() })

	client := dialWS(t, srv, "/cdp", nil)
	defer client.Close()

	waitUntil(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 1
	})

	ext2 := dialExtension(t, srv)
	defer ext2.Close()

	waitUntil(t, func() bool {
		cur := s.currentExtension()
		return cur != nil && cur.epoch == 2
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error from the superseded extension's client, got %v", err)
	}
	if closeErr.Text != CloseGone {
		t.Fatalf("expected close reason %q, got %q", CloseGone, closeErr.Text)
	}

	waitUntil(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 0
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
