package mascara

import (
	"context"
	"net"
)

// NetFactory is the default ServerFactory/ClientFactory, backed by
// net.Listen/net.Dial. It supports "tcp" and "unix" networks, the two
// defaults spec.md §6 names; any network net.Dial accepts works, since
// the engine does not interpret the address.
type NetFactory struct {
	// Dialer performs Dial. Its Timeout, when non-zero, bounds Dial in
	// addition to any deadline ctx carries; zero means only ctx applies.
	Dialer net.Dialer
}

func (f *NetFactory) Listen(ctx context.Context, network, address string) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err, Temporary: false}
	}
	return &netListener{ln: ln}, nil
}

func (f *NetFactory) Dial(ctx context.Context, network, address string) (Transport, error) {
	conn, err := f.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err, Temporary: true}
	}
	return conn, nil
}

type netListener struct {
	ln net.Listener
}

func (l *netListener) Accept(ctx context.Context) (Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &TransportError{Op: "accept", Err: r.err, Temporary: true}
		}
		return r.conn, nil
	case <-ctx.Done():
		_ = l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *netListener) Close() error { return l.ln.Close() }
func (l *netListener) Addr() string { return l.ln.Addr().String() }
