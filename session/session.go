// Package session implements a two-party RPC session over one transport.Conn.
//
// A Session multiplexes many concurrent calls over a single connection. Each
// call gets a unique id and a pending Future; one dispatch goroutine reads
// Return frames and resolves the Future registered under the frame's id.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Call(id=3)──┘
//
//	recvLoop:  ←── Return(id=2) → pending[2].resolve → goroutine-2 wakes up
//
// Transport failures and protocol violations are fatal: the connection is
// torn down and every pending Future fails with a Closed error. A Return with
// status=error only fails its own Future.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tax-rpc/codec"
	"tax-rpc/message"
	"tax-rpc/protocol"
	"tax-rpc/rpcerr"
	"tax-rpc/transport"
)

// BootstrapCapability is the id of the remote root object.
const BootstrapCapability uint32 = 0

// Options configures a Session.
type Options struct {
	Codec             codec.CodecType
	HeartbeatInterval time.Duration // 0 disables heartbeats
	DialTimeout       time.Duration // Used by Dial only; 0 means the transport default
	Peer              string        // Name announced in the Hello frame
	Logger            *zap.Logger
}

// DefaultOptions is what Dial uses when the caller has no preference.
var DefaultOptions = Options{
	Codec:             codec.CodecTypeJSON,
	HeartbeatInterval: 30 * time.Second,
	DialTimeout:       10 * time.Second,
	Peer:              "tax-rpc",
}

// Session is the client side of a two-party connection.
// It is safe for concurrent use.
type Session struct {
	conn      *transport.Conn
	codec     codec.Codec
	logger    *zap.Logger
	remote    message.Hello
	heartbeat time.Duration

	seq atomic.Uint64 // Last call id handed out

	mu      sync.Mutex
	pending map[uint64]*Future // Calls awaiting a Return
	closing bool               // Set by Close or shutdown; no new calls after this
	cause   error              // First fatal error, nil for a local Close
	err     error              // Terminal error handed to pending calls

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to address, performs the handshake and starts the session.
func Dial(ctx context.Context, address string, opts Options) (*Session, error) {
	conn, err := transport.Dial(ctx, "tcp", address, transport.DialOptions{Timeout: opts.DialTimeout})
	if err != nil {
		return nil, err
	}
	remote, err := Handshake(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newSession(conn, opts, *remote), nil
}

// New starts a session on a connection whose handshake is already done.
func New(conn *transport.Conn, opts Options) *Session {
	return newSession(conn, opts, message.Hello{})
}

func newSession(conn *transport.Conn, opts Options, remote message.Hello) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		conn:      conn,
		codec:     codec.GetCodec(opts.Codec),
		remote:    remote,
		heartbeat: opts.HeartbeatInterval,
		pending:   make(map[uint64]*Future),
		done:      make(chan struct{}),
		logger: logger.Named("session").With(
			zap.String("session_id", remote.SessionID),
			zap.Stringer("remote", conn.RemoteAddr()),
		),
	}
	s.start()
	return s
}

// start links the dispatch loop, the heartbeat loop and the connection
// closer: when one of them stops, the others follow.
func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.recvLoop()
		s.fail(err)
		return err
	})
	if s.heartbeat > 0 {
		g.Go(func() error {
			err := s.heartbeatLoop(ctx)
			s.fail(err)
			return err
		})
	}
	g.Go(func() error {
		// Unblocks recvLoop, which is parked in a read.
		<-ctx.Done()
		s.conn.Close()
		return nil
	})

	go func() {
		g.Wait()
		s.shutdown()
	}()
}

// Bootstrap returns the remote root capability. It does not touch the network.
func (s *Session) Bootstrap() Capability {
	return Capability{s: s, id: BootstrapCapability}
}

// Call sends one call and returns its unresolved Future. Failures before the
// frame is written resolve the Future immediately; a write failure is fatal to
// the session and resolves the Future with a Closed error.
func (s *Session) Call(c Capability, methodID uint16, params any) *Future {
	id := s.seq.Add(1)
	f := newFuture(id, s.codec)

	var payload []byte
	if params != nil {
		var err error
		if payload, err = s.codec.Encode(params); err != nil {
			f.resolveError(errors.Wrapf(err, "encode params of call %d", id))
			return f
		}
	}
	body, err := (&message.Call{
		CallID:       id,
		CapabilityID: c.id,
		MethodID:     methodID,
		Params:       payload,
	}).MarshalBinary()
	if err != nil {
		f.resolveError(err)
		return f
	}
	// Refused before anything is written: only this call fails.
	if len(body) > int(protocol.MaxBodyLen) {
		f.resolveError(rpcerr.Protocol(
			errors.Wrapf(protocol.ErrMalformedFrame, "body too large: %d bytes", len(body)),
			"call %d", id))
		return f
	}

	// Register BEFORE sending: the Return may beat Send back to us.
	s.mu.Lock()
	if s.closing {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = rpcerr.ErrConnectionClosed
		}
		f.resolveError(err)
		return f
	}
	s.pending[id] = f
	s.mu.Unlock()

	header := &protocol.Header{CodecType: byte(s.codec.Type()), MsgType: protocol.MsgTypeCall}
	if err := s.conn.Send(header, body); err != nil {
		s.logger.Warn("write call failed", zap.Uint64("call_id", id), zap.Error(err))
		s.fail(err)
	}
	return f
}

// recvLoop is the only reader of the connection. Frames are handled in the
// order they arrive; it never blocks on anything but the next read.
func (s *Session) recvLoop() error {
	for {
		header, body, err := s.conn.Receive()
		if err != nil {
			return err
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeReturn:
		default:
			return rpcerr.Protocol(nil, "unexpected %s frame", header.MsgType)
		}

		var ret message.Return
		if err := ret.UnmarshalBinary(body); err != nil {
			return rpcerr.Protocol(err, "decode return")
		}

		s.mu.Lock()
		f, ok := s.pending[ret.CallID]
		delete(s.pending, ret.CallID)
		s.mu.Unlock()

		if !ok {
			return rpcerr.UnknownCallID(ret.CallID)
		}
		if ret.Status == message.StatusError {
			f.resolveError(rpcerr.Remote(ret.Err()))
		} else {
			f.resolve(ret.Payload)
		}
	}
}

// heartbeatLoop sends periodic heartbeat frames so the peer's idle timeout
// does not fire and a dead connection is noticed by a failing write.
func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	header := &protocol.Header{CodecType: byte(s.codec.Type()), MsgType: protocol.MsgTypeHeartbeat}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.conn.Send(header, nil); err != nil {
				return err
			}
		}
	}
}

// fail records the first fatal error and starts teardown. A nil error or one
// arriving after Close is ignored as a cause.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if err != nil && s.cause == nil && !s.closing {
		s.cause = err
	}
	s.mu.Unlock()
	if err != nil {
		s.cancel()
	}
}

// shutdown runs once, after every background task has returned.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.closing = true
	cause := s.cause
	s.err = rpcerr.Closed(cause)
	pending := s.pending
	s.pending = make(map[uint64]*Future)
	s.mu.Unlock()

	s.conn.Close()
	for _, f := range pending {
		f.resolveError(s.err)
	}

	if cause != nil && !transport.IsClosed(cause) {
		s.logger.Warn("session terminated", zap.Error(cause), zap.Int("pending", len(pending)))
	} else {
		s.logger.Debug("session closed", zap.Int("pending", len(pending)))
	}
	close(s.done)
}

// Close tears the session down. Pending calls fail with ErrConnectionClosed.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
	return nil
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error once Done is closed, nil before.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Alive reports whether new calls can still be issued.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

// Pending returns the number of calls awaiting a Return.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ID returns the session id assigned by the server during the handshake.
func (s *Session) ID() string { return s.remote.SessionID }

// Remote returns the server's Hello.
func (s *Session) Remote() message.Hello { return s.remote }

// Capability is a handle on a remote object reachable through a session.
type Capability struct {
	s  *Session
	id uint32
}

// NewCapability returns a handle on capability id of s. The server numbers
// its services in registration order, starting at BootstrapCapability.
func NewCapability(s *Session, id uint32) Capability {
	return Capability{s: s, id: id}
}

func (c Capability) ID() uint32 { return c.id }

func (c Capability) Session() *Session { return c.s }

// Call invokes methodID on the capability.
func (c Capability) Call(methodID uint16, params any) *Future {
	return c.s.Call(c, methodID, params)
}
