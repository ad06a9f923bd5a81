// Package middleware wraps the server's call handler.
//
// Chain(A, B, C)(handler) → A(B(C(handler)))
// Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"
	"fmt"

	"tax-rpc/codec"
	"tax-rpc/message"
)

// Request is one decoded call as seen by the handler chain.
type Request struct {
	Call    *message.Call
	Service string // Name of the service behind Call.CapabilityID, "" if unknown
	Method  string // Name of the method behind Call.MethodID, "" if unknown
	Codec   codec.Codec
	Session string // Server-assigned session id of the connection
	Peer    string // Name the client announced in its Hello
}

// FullMethod returns "Service.Method", or a numeric form when the names are unknown.
func (r *Request) FullMethod() string {
	if r.Service == "" || r.Method == "" {
		return fmt.Sprintf("%d.%d", r.Call.CapabilityID, r.Call.MethodID)
	}
	return r.Service + "." + r.Method
}

func (r *Request) errorReturn(msg string) *message.Return {
	return message.ErrorReturn(r.Call.CallID, msg)
}

type HandlerFunc func(ctx context.Context, req *Request) *message.Return

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
