package mascara

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketFactory is an alternate ServerFactory/ClientFactory built on
// gorilla/websocket, in the shape of llmdo/mcpc's WebSocketTransport:
// a text-message-per-frame connection with periodic pings and a
// bounded pong wait to detect a dead peer. Unlike llmdo/mcpc's
// transport, it does not itself reconnect — spec.md §1 excludes
// "re-establishment of streams across reconnects" from the core, so
// reconnection is left to a caller wrapping Dial in a retry loop, the
// way a caller of Client.Connect already must handle dial failures.
type WebSocketFactory struct {
	// PingInterval and PongWait mirror llmdo/mcpc's DialOptions
	// defaults (20s / 60s) when left zero.
	PingInterval time.Duration
	PongWait     time.Duration

	Upgrader websocket.Upgrader
	Dialer   websocket.Dialer
}

func (f *WebSocketFactory) withDefaults() (ping, pong time.Duration) {
	ping, pong = f.PingInterval, f.PongWait
	if ping <= 0 {
		ping = 20 * time.Second
	}
	if pong <= 0 {
		pong = 60 * time.Second
	}
	return
}

func (f *WebSocketFactory) Listen(ctx context.Context, network, address string) (Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err, Temporary: false}
	}
	ping, pong := f.withDefaults()
	l := &wsListener{
		ln:       ln,
		upgrader: f.Upgrader,
		ping:     ping,
		pong:     pong,
		acceptCh: make(chan Transport),
		errCh:    make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.srv = &http.Server{Handler: mux}
	go func() {
		l.errCh <- l.srv.Serve(ln)
	}()
	return l, nil
}

func (f *WebSocketFactory) Dial(ctx context.Context, network, address string) (Transport, error) {
	conn, _, err := f.Dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err, Temporary: true}
	}
	ping, pong := f.withDefaults()
	return newWSConn(conn, ping, pong), nil
}

type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	ping     time.Duration
	pong     time.Duration
	acceptCh chan Transport
	errCh    chan error
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.acceptCh <- newWSConn(conn, l.ping, l.pong)
}

func (l *wsListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.acceptCh:
		return t, nil
	case err := <-l.errCh:
		return nil, &TransportError{Op: "accept", Err: err, Temporary: false}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error { return l.srv.Close() }
func (l *wsListener) Addr() string { return l.ln.Addr().String() }

// wsConn adapts a gorilla/websocket message connection to io.Reader/
// io.Writer, buffering partial reads across ReadMessage calls the way
// bufio would over a socket, since the deframer expects an arbitrary
// byte stream, not one message per Read.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending []byte

	stopPing chan struct{}
}

func newWSConn(conn *websocket.Conn, ping, pong time.Duration) *wsConn {
	w := &wsConn{conn: conn, stopPing: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(pong))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pong))
	})
	go w.pingLoop(ping)
	return w
}

func (w *wsConn) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-w.stopPing:
			return
		}
	}
}

func (w *wsConn) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()
	for len(w.pending) == 0 {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			return 0, &TransportError{Op: "read", Err: err, Temporary: false}
		}
		w.pending = msg
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, &TransportError{Op: "write", Err: err, Temporary: true}
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	select {
	case <-w.stopPing:
	default:
		close(w.stopPing)
	}
	return w.conn.Close()
}

var _ io.ReadWriteCloser = (*wsConn)(nil)
