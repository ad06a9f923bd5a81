package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tax-rpc/message"
)

// Logging logs every call with its duration, and the error message of failed ones.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("call")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.Return {
			start := time.Now()
			ret := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.FullMethod()),
				zap.Uint64("call_id", req.Call.CallID),
				zap.String("session_id", req.Session),
				zap.Duration("duration", time.Since(start)),
			}
			if ret.Status == message.StatusError {
				logger.Warn("call failed", append(fields, zap.String("error", ret.Err()))...)
			} else {
				logger.Debug("call served", fields...)
			}
			return ret
		}
	}
}
