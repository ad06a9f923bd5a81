package middleware

import (
	"context"
	"time"

	"tax-rpc/message"
)

// Timeout bounds a handler. The handler's context is cancelled when the
// deadline passes and the caller gets "request timed out".
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.Return {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Return, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case ret := <-done:
				return ret
			case <-ctx.Done():
				return req.errorReturn("request timed out")
			}
		}
	}
}
