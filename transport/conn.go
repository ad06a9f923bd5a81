// Package transport owns the byte stream under a session: dialing, whole-frame
// writes and single-reader frame reads.
//
// Many goroutines may Send on one Conn; the write lock keeps each frame's
// bytes contiguous on the wire. Exactly one goroutine (the session's dispatch
// loop or the server's connection loop) may Receive.
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"tax-rpc/protocol"
	"tax-rpc/rpcerr"
)

const defaultDialTimeout = 10 * time.Second

// DialOptions tunes Dial. The zero value is usable.
type DialOptions struct {
	Timeout   time.Duration // Upper bound on connecting; 0 means 10s
	KeepAlive time.Duration // TCP keep-alive period; 0 uses the OS default
}

// Conn is one framed, bidirectional connection.
type Conn struct {
	conn    net.Conn
	sending sync.Mutex // Write lock: header and body of a frame must not interleave

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a TCP connection. There is no retry: failures come back at once
// as rpcerr Connect errors.
func Dial(ctx context.Context, network, address string, opts DialOptions) (*Conn, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout, KeepAlive: opts.KeepAlive}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, rpcerr.Connect(err, "dial %s", address)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return NewConn(conn), nil
}

// NewConn wraps an established connection (e.g. one side of net.Pipe, or an
// accepted server connection).
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Send writes one complete frame.
func (c *Conn) Send(h *protocol.Header, body []byte) error {
	h.BodyLen = uint32(len(body))
	c.sending.Lock()
	defer c.sending.Unlock()
	return protocol.Encode(c.conn, h, body)
}

// Receive reads one complete frame. Malformed frames are reported as rpcerr
// Protocol errors; stream errors (io.EOF, closed connection) are returned as-is.
func (c *Conn) Receive() (*protocol.Header, []byte, error) {
	h, body, err := protocol.Decode(c.conn)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedFrame) {
			return nil, nil, rpcerr.Protocol(err, "decode frame")
		}
		return nil, nil, err
	}
	return h, body, nil
}

// SetDeadline bounds both directions; the zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsClosed reports whether err is the ordinary end of a stream rather than a
// failure worth logging.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
