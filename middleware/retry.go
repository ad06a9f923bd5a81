package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"tax-rpc/message"
)

// Retryable reports whether a failed call may be attempted again.
type Retryable func(msg string) bool

// TransientError matches timeouts and refused connections from downstream stores.
func TransientError(msg string) bool {
	return strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}

// Retry re-runs failed calls whose error is retryable, with exponential backoff
// starting at baseDelay. It gives up early when ctx ends.
func Retry(maxRetries int, baseDelay time.Duration, retryable Retryable, logger *zap.Logger) Middleware {
	if retryable == nil {
		retryable = TransientError
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.Return {
			ret := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if ret.Status != message.StatusError || !retryable(ret.Err()) {
					return ret
				}
				logger.Info("retrying call",
					zap.String("method", req.FullMethod()),
					zap.Int("attempt", i+1),
					zap.String("error", ret.Err()),
				)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return ret
				}
				ret = next(ctx, req)
			}
			return ret // Return last response after retries
		}
	}
}
