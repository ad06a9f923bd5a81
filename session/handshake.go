package session

import (
	"context"
	"time"

	"github.com/blang/semver"
	"github.com/pkg/errors"

	"tax-rpc/message"
	"tax-rpc/protocol"
	"tax-rpc/rpcerr"
	"tax-rpc/transport"
)

// ProtocolVersion is announced in every Hello. Peers must agree on the major version.
var ProtocolVersion = semver.MustParse("1.0.0")

// CheckVersion validates a peer's announced version against ProtocolVersion.
func CheckVersion(announced string) error {
	v, err := semver.Parse(announced)
	if err != nil {
		return errors.Wrapf(err, "peer version %q", announced)
	}
	if v.Major != ProtocolVersion.Major {
		return errors.Errorf("incompatible protocol version %s (local %s)", v, ProtocolVersion)
	}
	return nil
}

// Handshake performs the client half of the two-party handshake: send our
// Hello, read the server's. The context deadline, if any, bounds both steps.
// Every failure is a Connect error; the caller closes conn.
func Handshake(ctx context.Context, conn *transport.Conn, opts Options) (*message.Hello, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	body, err := (&message.Hello{Version: ProtocolVersion.String(), Peer: opts.Peer}).MarshalBinary()
	if err != nil {
		return nil, rpcerr.Connect(err, "encode hello")
	}
	header := &protocol.Header{CodecType: byte(opts.Codec), MsgType: protocol.MsgTypeHello}
	if err := conn.Send(header, body); err != nil {
		return nil, rpcerr.Connect(err, "send hello")
	}

	reply, body, err := conn.Receive()
	if err != nil {
		return nil, rpcerr.Connect(err, "read hello")
	}
	if reply.MsgType != protocol.MsgTypeHello {
		return nil, rpcerr.Connect(nil, "expected hello, got %s frame", reply.MsgType)
	}
	var remote message.Hello
	if err := remote.UnmarshalBinary(body); err != nil {
		return nil, rpcerr.Connect(err, "decode hello")
	}
	if err := CheckVersion(remote.Version); err != nil {
		return nil, rpcerr.Connect(err, "handshake")
	}
	return &remote, nil
}
