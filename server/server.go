// Package server implements the serving side of a two-party session: service
// registration, the handshake, parallel call dispatch and graceful shutdown.
//
// Call processing pipeline:
//
//	Accept conn → handleConn (Hello handshake, then a single goroutine reads frames)
//	  → for each Call: go handleCall (parallel processing)
//	    → Middleware Chain → dispatch (capability → method → reflect.Call) → Return frame
package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blang/semver"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"tax-rpc/codec"
	"tax-rpc/message"
	"tax-rpc/middleware"
	"tax-rpc/protocol"
	"tax-rpc/registry"
	"tax-rpc/rpcerr"
	"tax-rpc/session"
	"tax-rpc/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	defaultTTL       = 10 // seconds
	peerName         = "taxd"
)

// sessionNamespace scopes the ids handed out in Hello replies.
var sessionNamespace = uuid.NewV5(uuid.NamespaceURL, "tax-rpc/session")

// Emptier is implemented by reply types that can carry no result. An empty
// reply is sent as a status=ok Return with no payload.
type Emptier interface {
	IsEmpty() bool
}

// Server registers services and serves calls on them.
type Server struct {
	logger      *zap.Logger
	version     semver.Version
	idleTimeout time.Duration // 0 disables the read deadline

	registry      registry.Registry
	advertiseAddr string // Address registered in the registry (e.g. "10.0.0.5:50051")
	ttl           int64

	mu          sync.Mutex
	services    []*service          // Indexed by capability id
	byName      map[string]*service // "Engine" → *service
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))
	listener    net.Listener
	draining    bool           // Set by Shutdown; no new calls are admitted
	inflight    sync.WaitGroup // Calls being handled
	conns       map[*transport.Conn]struct{}

	shutdown atomic.Bool // Set during shutdown to suppress Accept errors
	seq      atomic.Uint64
	ctx      context.Context // Parent of every handler context
	cancel   context.CancelFunc
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry announces every registered service at advertiseAddr once
// Serve starts. ttl is the lease in seconds; 0 means 10.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIdleTimeout closes connections that send nothing, not even a
// heartbeat, for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithVersion overrides the protocol version announced in Hello replies.
func WithVersion(v semver.Version) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:  zap.NewNop(),
		version: session.ProtocolVersion,
		ttl:     defaultTTL,
		byName:  make(map[string]*service),
		conns:   make(map[*transport.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	return s
}

// Register registers a service receiver (e.g. &taxengine.Engine{}) under its
// type name and returns its capability id. The first service registered is
// the bootstrap capability.
func (s *Server) Register(rcvr any) (uint32, error) {
	return s.RegisterName("", rcvr)
}

// RegisterName is Register with an explicit service name.
func (s *Server) RegisterName(name string, rcvr any) (uint32, error) {
	svc, err := newService(name, rcvr)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[svc.name]; dup {
		return 0, errors.Errorf("rpc: service already defined: %s", svc.name)
	}
	id := uint32(len(s.services))
	s.services = append(s.services, svc)
	s.byName[svc.name] = svc

	methods := make([]string, len(svc.methods))
	for i, m := range svc.methods {
		methods[i] = m.method.Name
	}
	s.logger.Info("service registered",
		zap.String("service", svc.name),
		zap.Uint32("capability", id),
		zap.Strings("methods", methods),
	)
	return id, nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// ListenAndServe listens on address and calls Serve.
func (s *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", address)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// Shutdown and the Accept error otherwise.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	// Build the middleware chain once at startup (not per call)
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	services := append([]*service(nil), s.services...)
	s.mu.Unlock()

	if s.registry != nil {
		for _, svc := range services {
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := s.registry.Register(ctx, svc.name, registry.ServiceInstance{
				Addr:    s.advertiseAddr,
				Weight:  1,
				Version: s.version.String(),
			}, s.ttl)
			cancel()
			if err != nil {
				ln.Close()
				return errors.Wrapf(err, "register %s", svc.name)
			}
		}
	}

	s.logger.Info("serving", zap.Stringer("addr", ln.Addr()), zap.String("version", s.version.String()))

	// Accept loop: one goroutine per connection
	for {
		conn, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(c *transport.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// handshake reads the client's Hello and answers with ours. The returned
// Hello is the client's; its SessionID field is the id we assigned.
func (s *Server) handshake(conn *transport.Conn) (*message.Hello, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	header, body, err := conn.Receive()
	if err != nil {
		return nil, err
	}
	if header.MsgType != protocol.MsgTypeHello {
		return nil, rpcerr.Protocol(nil, "expected hello, got %s frame", header.MsgType)
	}
	var hello message.Hello
	if err := hello.UnmarshalBinary(body); err != nil {
		return nil, rpcerr.Protocol(err, "decode hello")
	}
	if err := session.CheckVersion(hello.Version); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s/%d/%d", conn.RemoteAddr(), time.Now().UnixNano(), s.seq.Add(1))
	hello.SessionID = uuid.NewV5(sessionNamespace, name).String()

	reply, err := (&message.Hello{Version: s.version.String(), Peer: peerName, SessionID: hello.SessionID}).MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(&protocol.Header{CodecType: header.CodecType, MsgType: protocol.MsgTypeHello}, reply); err != nil {
		return nil, err
	}
	return &hello, nil
}

// handleConn serves one connection. It runs a read loop in a single goroutine
// (reads must be sequential to parse frame boundaries) and dispatches each
// call to its own goroutine. Responses share the connection's write lock, so
// concurrent Returns never interleave.
func (s *Server) handleConn(nc net.Conn) {
	conn := transport.NewConn(nc)
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		conn.Close()
	}()
	logger := s.logger.With(zap.Stringer("remote", conn.RemoteAddr()))

	hello, err := s.handshake(conn)
	if err != nil {
		logger.Warn("handshake failed", zap.Error(err))
		return
	}
	logger = logger.With(zap.String("session_id", hello.SessionID), zap.String("peer", hello.Peer))
	logger.Debug("session opened")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	for {
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		header, body, err := conn.Receive()
		if err != nil {
			var ne net.Error
			switch {
			case transport.IsClosed(err):
				logger.Debug("session closed")
			case errors.As(err, &ne) && ne.Timeout():
				logger.Info("idle timeout", zap.Duration("idle", s.idleTimeout))
			default:
				logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			// Heartbeats exist only to keep the connection alive
			continue
		case protocol.MsgTypeCall:
		default:
			logger.Warn("protocol violation", zap.Stringer("msg_type", header.MsgType))
			return
		}

		call := &message.Call{}
		if err := call.UnmarshalBinary(body); err != nil {
			logger.Warn("malformed call", zap.Error(err))
			return
		}

		if !s.admit() {
			s.reply(conn, header.CodecType, message.ErrorReturn(call.CallID, "server shutting down"), logger)
			continue
		}
		// Without `go`, a slow handler on one call would block every later
		// call on the same connection.
		go s.handleCall(ctx, conn, header.CodecType, call, hello, logger)
	}
}

// admit counts a call as in flight unless the server is draining.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleCall(ctx context.Context, conn *transport.Conn, codecType byte, call *message.Call, hello *message.Hello, logger *zap.Logger) {
	defer s.inflight.Done()

	req := &middleware.Request{
		Call:    call,
		Codec:   codec.GetCodec(codec.CodecType(codecType)),
		Session: hello.SessionID,
		Peer:    hello.Peer,
	}
	if svc, m := s.lookup(call); m != nil {
		req.Service, req.Method = svc.name, m.method.Name
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	s.reply(conn, codecType, handler(ctx, req), logger)
}

// reply writes a Return. The Return carries the call's id, which is how the
// client matches it to the pending call. A Return that cannot be framed is
// replaced by an error Return so the call is still answered.
func (s *Server) reply(conn *transport.Conn, codecType byte, ret *message.Return, logger *zap.Logger) {
	body, err := ret.MarshalBinary()
	if err == nil && len(body) > int(protocol.MaxBodyLen) {
		logger.Warn("result too large", zap.Uint64("call_id", ret.CallID), zap.Int("bytes", len(body)))
		body, err = message.ErrorReturn(ret.CallID, "result too large").MarshalBinary()
	}
	if err != nil {
		// The client still needs an answer for this call id.
		logger.Error("encode return", zap.Uint64("call_id", ret.CallID), zap.Error(err))
		body, err = message.ErrorReturn(ret.CallID, "encode return failed").MarshalBinary()
		if err != nil {
			return
		}
	}
	header := &protocol.Header{CodecType: codecType, MsgType: protocol.MsgTypeReturn}
	if err := conn.Send(header, body); err != nil {
		logger.Debug("write return", zap.Uint64("call_id", ret.CallID), zap.Error(err))
	}
}

func (s *Server) lookup(call *message.Call) (*service, *methodType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(call.CapabilityID) >= len(s.services) {
		return nil, nil
	}
	svc := s.services[call.CapabilityID]
	m, ok := svc.lookup(call.MethodID)
	if !ok {
		return svc, nil
	}
	return svc, m
}

// dispatch is the innermost handler: capability → method → decode params →
// reflect.Call → encode reply. Every failure becomes a status=error Return;
// none of them affect the connection.
func (s *Server) dispatch(ctx context.Context, req *middleware.Request) *message.Return {
	call := req.Call
	svc, m := s.lookup(call)
	if svc == nil {
		return message.ErrorReturn(call.CallID, fmt.Sprintf("unknown capability %d", call.CapabilityID))
	}
	if m == nil {
		return message.ErrorReturn(call.CallID, fmt.Sprintf("unknown method %d on %s", call.MethodID, svc.name))
	}

	argv := reflect.New(m.ArgType)
	replyv := reflect.New(m.ReplyType)
	if len(call.Params) > 0 {
		if err := req.Codec.Decode(call.Params, argv.Interface()); err != nil {
			return message.ErrorReturn(call.CallID, "invalid params: "+err.Error())
		}
	}

	if err := svc.call(ctx, m, argv, replyv); err != nil {
		return message.ErrorReturn(call.CallID, err.Error())
	}

	if e, ok := replyv.Interface().(Emptier); ok && e.IsEmpty() {
		return &message.Return{CallID: call.CallID, Status: message.StatusOK}
	}
	payload, err := req.Codec.Encode(replyv.Interface())
	if err != nil {
		return message.ErrorReturn(call.CallID, "encode result: "+err.Error())
	}
	return &message.Return{CallID: call.CallID, Status: message.StatusOK, Payload: payload}
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag (so the Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight calls to finish (with timeout)
//  5. Close the remaining connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for _, svc := range s.services {
		names = append(names, svc.name)
	}
	ln := s.listener
	s.mu.Unlock()

	// Step 1: Deregister FIRST, so clients stop sending new calls
	if s.registry != nil {
		for _, name := range names {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := s.registry.Deregister(ctx, name, s.advertiseAddr); err != nil {
				s.logger.Warn("deregister failed", zap.String("service", name), zap.Error(err))
			}
			cancel()
		}
	}

	// Step 2: Set shutdown flag BEFORE closing listener
	s.shutdown.Store(true)
	if ln != nil {
		ln.Close()
	}

	// Step 3: Stop admitting calls, then wait for in-flight ones
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing calls to finish")
	}

	// Step 4: Cancel handlers still running and drop live connections
	s.cancel()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.logger.Info("server stopped", zap.Error(err))
	return err
}
