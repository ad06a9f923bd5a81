package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"tax-rpc/codec"
	"tax-rpc/message"
	"tax-rpc/protocol"
	"tax-rpc/rpcerr"
	"tax-rpc/transport"
)

// newPipe returns a session and the raw far end of its connection, which the
// test drives as the server.
func newPipe(t *testing.T, opts Options) (*Session, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	s := New(transport.NewConn(a), opts)
	peer := transport.NewConn(b)
	t.Cleanup(func() {
		peer.Close()
		s.Close()
	})
	return s, peer
}

func readCall(peer *transport.Conn) (*message.Call, error) {
	h, body, err := peer.Receive()
	if err != nil {
		return nil, err
	}
	if h.MsgType != protocol.MsgTypeCall {
		return nil, errors.New("expected call frame, got " + h.MsgType.String())
	}
	var call message.Call
	if err := call.UnmarshalBinary(body); err != nil {
		return nil, err
	}
	return &call, nil
}

func sendReturn(peer *transport.Conn, ret *message.Return) error {
	body, _ := ret.MarshalBinary()
	return peer.Send(&protocol.Header{MsgType: protocol.MsgTypeReturn}, body)
}

func waitDone(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("call %d never resolved", f.CallID())
	}
}

func TestRoundTrip(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go func() {
		call, err := readCall(peer)
		if err != nil {
			t.Errorf("read call: %v", err)
			return
		}
		if call.CapabilityID != BootstrapCapability || call.MethodID != 4 {
			t.Errorf("unexpected call target: %+v", call)
		}
		sendReturn(peer, &message.Return{CallID: call.CallID, Payload: call.Params})
	}()

	f := s.Bootstrap().Call(4, map[string]string{"clientId": "client_1"})

	var got map[string]string
	if err := f.Decode(context.Background(), &got); err != nil {
		t.Fatal(err)
	}
	if got["clientId"] != "client_1" {
		t.Fatalf("unexpected echo: %v", got)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending calls, got %d", s.Pending())
	}
}

// 逆序返回：每个 Future 只能拿到自己 callId 的结果
func TestReverseOrderResponses(t *testing.T) {
	s, peer := newPipe(t, Options{})
	const n = 10

	go func() {
		calls := make([]*message.Call, 0, n)
		for i := 0; i < n; i++ {
			call, err := readCall(peer)
			if err != nil {
				t.Errorf("read call: %v", err)
				return
			}
			calls = append(calls, call)
		}
		for i := len(calls) - 1; i >= 0; i-- {
			sendReturn(peer, &message.Return{CallID: calls[i].CallID, Payload: calls[i].Params})
		}
	}()

	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = s.Bootstrap().Call(0, i)
		}(i)
	}
	wg.Wait()

	for i, f := range futures {
		var got int
		if err := f.Decode(context.Background(), &got); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != i {
			t.Fatalf("cross-talk: call %d resolved with %d", i, got)
		}
	}
}

func TestConcurrentCallIDsUniqueAndResolvedOnce(t *testing.T) {
	s, peer := newPipe(t, Options{})
	const n = 100

	ids := make(chan uint64, n)
	go func() {
		for i := 0; i < n; i++ {
			call, err := readCall(peer)
			if err != nil {
				t.Errorf("read call: %v", err)
				return
			}
			ids <- call.CallID
			sendReturn(peer, &message.Return{CallID: call.CallID, Payload: []byte("1")})
		}
		close(ids)
	}()

	futures := make(chan *Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures <- s.Bootstrap().Call(0, nil)
		}()
	}
	wg.Wait()
	close(futures)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("call id %d used twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}

	for f := range futures {
		waitDone(t, f)
		// A second resolution attempt must not change the outcome.
		if f.resolveError(errors.New("late")) {
			t.Fatalf("call %d resolved twice", f.CallID())
		}
		payload, err := f.Join()
		if err != nil || string(payload) != "1" {
			t.Fatalf("call %d: payload %q err %v", f.CallID(), payload, err)
		}
	}
}

func TestRemoteErrorKeepsSessionUsable(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go func() {
		call, err := readCall(peer)
		if err != nil {
			return
		}
		sendReturn(peer, message.ErrorReturn(call.CallID, "unsupported jurisdiction"))

		call, err = readCall(peer)
		if err != nil {
			return
		}
		sendReturn(peer, &message.Return{CallID: call.CallID, Payload: []byte(`"ok"`)})
	}()

	_, err := s.Bootstrap().Call(0, "first").Join()
	if !rpcerr.IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if rpcerr.RemoteMessage(err) != "unsupported jurisdiction" {
		t.Fatalf("unexpected message %q", rpcerr.RemoteMessage(err))
	}

	var got string
	if err := s.Bootstrap().Call(0, "second").Decode(context.Background(), &got); err != nil {
		t.Fatalf("session unusable after remote error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("unexpected result %q", got)
	}
	if !s.Alive() {
		t.Fatal("session should still be alive")
	}
}

func TestEmptyPayloadIsNoData(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go func() {
		call, err := readCall(peer)
		if err != nil {
			return
		}
		sendReturn(peer, &message.Return{CallID: call.CallID, Status: message.StatusOK})
	}()

	f := s.Bootstrap().Call(0, nil)
	payload, err := f.Join()
	if err != nil || len(payload) != 0 {
		t.Fatalf("expected empty success, got %q, %v", payload, err)
	}

	var v struct{}
	err = f.Decode(context.Background(), &v)
	if !errors.Is(err, rpcerr.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestCloseFailsAllPending(t *testing.T) {
	s, peer := newPipe(t, Options{})
	const k = 5

	read := make(chan struct{})
	go func() {
		for i := 0; i < k; i++ {
			if _, err := readCall(peer); err != nil {
				return
			}
		}
		close(read)
	}()

	futures := make([]*Future, k)
	for i := range futures {
		futures[i] = s.Bootstrap().Call(0, i)
	}
	<-read
	if s.Pending() != k {
		t.Fatalf("expected %d pending, got %d", k, s.Pending())
	}

	s.Close()

	for _, f := range futures {
		waitDone(t, f)
		_, err := f.Join()
		if !errors.Is(err, rpcerr.ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("pending registry not drained: %d", s.Pending())
	}

	// Calls after close resolve immediately.
	_, err := s.Bootstrap().Call(0, 1).Join()
	if rpcerr.KindOf(err) != rpcerr.KindClosed {
		t.Fatalf("expected closed error after Close, got %v", err)
	}
}

func TestPeerHangupFailsPending(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go func() {
		readCall(peer)
		peer.Close()
	}()

	f := s.Bootstrap().Call(0, "x")
	waitDone(t, f)
	if _, err := f.Join(); rpcerr.KindOf(err) != rpcerr.KindClosed {
		t.Fatalf("expected closed error, got %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down")
	}
}

func TestUnknownCallIDIsFatal(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go func() {
		if _, err := readCall(peer); err != nil {
			return
		}
		sendReturn(peer, &message.Return{CallID: 999, Payload: []byte("1")})
	}()

	f := s.Bootstrap().Call(0, nil)
	waitDone(t, f)
	<-s.Done()

	if !errors.Is(s.Err(), rpcerr.ErrUnknownCallID) {
		t.Fatalf("expected unknown call id cause, got %v", s.Err())
	}
	if _, err := f.Join(); !errors.Is(err, rpcerr.ErrConnectionClosed) {
		t.Fatalf("pending call should fail with ErrConnectionClosed, got %v", err)
	}
}

func TestUnexpectedFrameIsFatal(t *testing.T) {
	s, peer := newPipe(t, Options{})

	go peer.Send(&protocol.Header{MsgType: protocol.MsgTypeCall}, make([]byte, 14))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a call frame from the server")
	}
	var e *rpcerr.Error
	if !errors.As(errors.Unwrap(s.Err()), &e) || e.Kind != rpcerr.KindProtocol {
		t.Fatalf("expected protocol cause, got %v", s.Err())
	}
}

func TestWaitContextLeavesCallPending(t *testing.T) {
	s, peer := newPipe(t, Options{})

	release := make(chan struct{})
	go func() {
		call, err := readCall(peer)
		if err != nil {
			return
		}
		<-release
		sendReturn(peer, &message.Return{CallID: call.CallID, Payload: []byte("7")})
	}()

	f := s.Bootstrap().Call(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The late Return still lands and does not upset the session.
	close(release)
	payload, err := f.Join()
	if err != nil || string(payload) != "7" {
		t.Fatalf("late result: %q, %v", payload, err)
	}
	if !s.Alive() {
		t.Fatal("session should survive a late return")
	}
}

func TestHeartbeat(t *testing.T) {
	_, peer := newPipe(t, Options{HeartbeatInterval: 10 * time.Millisecond})

	h, _, err := peer.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if h.MsgType != protocol.MsgTypeHeartbeat {
		t.Fatalf("expected heartbeat, got %s", h.MsgType)
	}
}

func TestEncodeFailureResolvesFuture(t *testing.T) {
	s, _ := newPipe(t, Options{Codec: codec.CodecTypeBinary})

	// Plain ints have no binary layout.
	_, err := s.Bootstrap().Call(0, 5).Join()
	if err == nil {
		t.Fatal("expected encode error")
	}
	if !s.Alive() {
		t.Fatal("encode failure must not be fatal")
	}
}

func TestOversizedCallFailsAlone(t *testing.T) {
	s, peer := newPipe(t, Options{})

	inflight := s.Bootstrap().Call(0, 1)
	call, err := readCall(peer)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Bootstrap().Call(0, strings.Repeat("x", 17<<20)).Join()
	if rpcerr.KindOf(err) != rpcerr.KindProtocol || !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected a protocol error for the oversized call, got %v", err)
	}
	if !s.Alive() {
		t.Fatal("oversized call must not be fatal")
	}

	// The call already in flight still resolves normally.
	sendReturn(peer, &message.Return{CallID: call.CallID, Payload: call.Params})
	var got int
	if err := inflight.Decode(context.Background(), &got); err != nil || got != 1 {
		t.Fatalf("unrelated call: got %d, %v", got, err)
	}
}

func TestHandshake(t *testing.T) {
	cases := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"same major", "1.4.2", false},
		{"other major", "2.0.0", true},
		{"garbage", "not-a-version", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := net.Pipe()
			client, server := transport.NewConn(a), transport.NewConn(b)
			defer client.Close()
			defer server.Close()

			go func() {
				h, body, err := server.Receive()
				if err != nil || h.MsgType != protocol.MsgTypeHello {
					return
				}
				var hello message.Hello
				hello.UnmarshalBinary(body)
				if hello.Peer != "tester" {
					t.Errorf("peer name not sent: %+v", hello)
				}
				reply, _ := (&message.Hello{Version: tc.version, SessionID: "s-1"}).MarshalBinary()
				server.Send(&protocol.Header{MsgType: protocol.MsgTypeHello}, reply)
			}()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			remote, err := Handshake(ctx, client, Options{Peer: "tester"})
			if tc.wantErr {
				if rpcerr.KindOf(err) != rpcerr.KindConnect {
					t.Fatalf("expected connect error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if remote.SessionID != "s-1" {
				t.Fatalf("unexpected session id %q", remote.SessionID)
			}
		})
	}
}

func TestHandshakeDeadline(t *testing.T) {
	a, b := net.Pipe()
	client := transport.NewConn(a)
	defer client.Close()
	defer b.Close()

	// The far end reads nothing, so even sending the Hello blocks.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := Handshake(ctx, client, Options{}); rpcerr.KindOf(err) != rpcerr.KindConnect {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestResultDecodesAsJSON(t *testing.T) {
	// Sanity check that the default codec is JSON.
	s, peer := newPipe(t, Options{})
	go func() {
		call, err := readCall(peer)
		if err != nil {
			return
		}
		out, _ := json.Marshal([]float64{80.0})
		sendReturn(peer, &message.Return{CallID: call.CallID, Payload: out})
	}()

	var got []float64
	if err := s.Bootstrap().Call(0, nil).Decode(context.Background(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 80.0 {
		t.Fatalf("unexpected result %v", got)
	}
}
