package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"tax-rpc/message"
)

// RateLimit 创建一个基于令牌桶算法的限流中间件
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.Return {
			if !limiter.Allow() {
				return req.errorReturn("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
