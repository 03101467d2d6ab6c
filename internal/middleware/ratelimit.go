// 包 middleware：分析后端的入口中间件（限流、跨域）
package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

// 文档注释：全局令牌桶限流
// 背景：/analyze 每次都可能触发静态地图拉取与长时间分析，突发请求需要在入口削峰
// 约束：不排队，超限直接 429；/health 不计入，便于探活
func RateLimit(qps float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	lim := rate.NewLimiter(rate.Limit(qps), burst)
	log := logger.With("ratelimit")
	log.Info("rate_limit_enabled", "qps", qps, "burst", burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" && !lim.Allow() {
				metrics.RateLimitedTotal.Inc()
				log.Debug("rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
