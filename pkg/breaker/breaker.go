// Package breaker 按统一配置创建 gobreaker 熔断器.
// HTTP 中间件、向量化提供者与 pgvector 索引各自持有一个实例，状态变化写日志并导出到 prometheus.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/yeisme/dedupvault/pkg/configs"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/metrics"
)

// New 未启用时返回 nil，调用方据此直接调用下游.
func New(name string, cfg configs.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}

	return gobreaker.NewCircuitBreaker(Settings(name, cfg))
}

// Settings 把配置翻译成 gobreaker 参数：请求数达到 MinRequests 且失败比例达到 FailureRate 时打开.
func Settings(name string, cfg configs.CircuitBreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequestsInHalf,
		Interval:    cfg.Interval(),
		Timeout:     cfg.Timeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))

			l := nlog.Component("breaker")

			ev := l.Warn()
			if to == gobreaker.StateClosed {
				ev = l.Info()
			}

			ev.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Time("at", time.Now()).Msg("circuit breaker state changed")
		},
	}
}
