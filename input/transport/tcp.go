package transport

import (
	stderrors "errors"
	"fmt"
	"net"

	"github.com/msjae/bioingest/errors"
)

type tcpListener struct {
	ln net.Listener
}

// ListenTCP listens on a TCP address such as "127.0.0.1:7070". Port 0 picks
// a free port.
func ListenTCP(address string) (Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "ListenTCP", fmt.Sprintf("listen on %s", address))
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if stderrors.Is(err, net.ErrClosed) {
			return nil, errors.ErrListenerClosed
		}
		return nil, errors.WrapTransient(err, "transport", "Accept", "accept tcp connection")
	}
	return tcpConn{Conn: c}, nil
}

func (l *tcpListener) Close() error {
	if err := l.ln.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

type tcpConn struct {
	net.Conn
}

func (c tcpConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}
