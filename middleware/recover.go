package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"tax-rpc/message"
)

// Recover turns a panicking handler into an error Return. The connection and
// the other calls on it are unaffected.
func Recover(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (ret *message.Return) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("method", req.FullMethod()),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					ret = req.errorReturn(fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
