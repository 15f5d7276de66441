package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}

// socketWriter serializes writes to a single WebSocket connection through a
// bounded queue fed by one writer goroutine, so a slow reader never blocks
// the broker's hot path. Exceeding the queue capacity closes the socket
// with CloseSlow rather than blocking the sender.
type socketWriter struct {
	ws    *websocket.Conn
	queue chan any
	done  chan struct{}

	closeOnce sync.Once
	onSlow    func()
}

func newSocketWriter(ws *websocket.Conn, capacity int, onSlow func()) *socketWriter {
	w := &socketWriter{
		ws:     ws,
		queue:  make(chan any, capacity),
		done:   make(chan struct{}),
		onSlow: onSlow,
	}
	go w.run()
	return w
}

func (w *socketWriter) run() {
	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}

// enqueue attempts a non-blocking send. A full queue means the consumer is
// not keeping up; the socket is closed with CloseSlow and the caller should
// treat the connection as gone.
func (w *socketWriter) enqueue(msg any) bool {
	select {
	case w.queue <- msg:
		return true
	default:
		w.closeSlow()
		return false
	}
}

func (w *socketWriter) closeSlow() {
	fired := false
	w.closeOnce.Do(func() {
		closeWithReason(w.ws, CloseSlow)
		close(w.done)
		fired = true
	})
	// onSlow runs outside closeOnce: it tears the owner down, which calls
	// stop on this writer again.
	if fired && w.onSlow != nil {
		w.onSlow()
	}
}

// stop tears the writer down without a SLOW_CONSUMER signal; used on
// ordinary disconnects and shutdown.
func (w *socketWriter) stop() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}

func closeWithReason(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadlineNow())
	_ = ws.Close()
}
