// Package rpcerr defines the error taxonomy shared by the transport, session
// and client layers.
//
// Every failure produced by those layers carries an explicit Kind, so callers
// classify errors with KindOf instead of inspecting opaque error values:
//
//	Connect   transport unreachable or handshake failed (fatal, surfaced)
//	Protocol  malformed frame or unknown call id (fatal to the connection)
//	Remote    the service ran the call and reported a failure (not fatal)
//	Closed    the connection ended while the call was pending
//	NoData    the call succeeded but carried no result body
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies an RPC failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnect
	KindProtocol
	KindRemote
	KindClosed
	KindNoData
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindProtocol:
		return "protocol"
	case KindRemote:
		return "remote"
	case KindClosed:
		return "closed"
	case KindNoData:
		return "no data"
	default:
		return "unknown"
	}
}

// Error is the tagged error value produced by the RPC layers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Kind.String() + ": " + e.Msg
	case e.Msg == "":
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind and message so that errors.Is works
// for copies carrying a different cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

var (
	// ErrConnectionClosed fails calls still pending when a connection ends.
	ErrConnectionClosed = &Error{Kind: KindClosed, Msg: "connection closed"}
	// ErrUnknownCallID is reported when a Return names no pending call.
	ErrUnknownCallID = &Error{Kind: KindProtocol, Msg: "unknown call id"}
	// ErrNoData is returned when a successful Return carries an empty body.
	ErrNoData = &Error{Kind: KindNoData, Msg: "no data in response"}
)

func Connect(err error, format string, args ...any) error {
	return &Error{Kind: KindConnect, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Protocol(err error, format string, args ...any) error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Remote builds the error for a Return frame with status=error.
func Remote(msg string) error {
	return &Error{Kind: KindRemote, Msg: msg}
}

// UnknownCallID reports a Return for a call id that is not pending.
func UnknownCallID(id uint64) error {
	return &Error{Kind: KindProtocol, Msg: ErrUnknownCallID.Msg, Err: fmt.Errorf("call id %d", id)}
}

// Closed wraps the terminal error of a connection.
func Closed(cause error) error {
	return &Error{Kind: KindClosed, Msg: ErrConnectionClosed.Msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRemote reports whether err is an application failure reported by the peer.
func IsRemote(err error) bool { return KindOf(err) == KindRemote }

// RemoteMessage returns the message of a remote error, or "" if err is not one.
func RemoteMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRemote {
		return e.Msg
	}
	return ""
}
