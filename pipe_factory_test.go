package mascara

import (
	"context"
	"net"
	"sync"
)

// pipeFactory is an in-process ServerFactory/ClientFactory pair backed
// by net.Pipe, so integration tests can drive a real Server and Client
// against each other without opening a socket.
type pipeFactory struct {
	mu       sync.Mutex
	pending  chan net.Conn
	closed   bool
}

func newPipeFactory() *pipeFactory {
	return &pipeFactory{pending: make(chan net.Conn, 8)}
}

func (f *pipeFactory) Listen(ctx context.Context, network, address string) (Listener, error) {
	return &pipeListener{factory: f}, nil
}

func (f *pipeFactory) Dial(ctx context.Context, network, address string) (Transport, error) {
	client, server := net.Pipe()
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		client.Close()
		server.Close()
		return nil, ErrTransportClosed
	}
	f.pending <- server
	return client, nil
}

type pipeListener struct {
	factory *pipeFactory
}

func (l *pipeListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case conn := <-l.factory.pending:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error {
	l.factory.mu.Lock()
	l.factory.closed = true
	l.factory.mu.Unlock()
	return nil
}

func (l *pipeListener) Addr() string { return "pipe" }
