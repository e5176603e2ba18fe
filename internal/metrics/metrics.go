package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 业务指标，挂在默认registry上，由 /metrics 暴露
var (
	// ContributionsTotal 贡献次数（按结果分类）
	ContributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spl_contributions_total",
		Help: "Contributions processed, labelled by result.",
	}, []string{"result"})

	// ClaimsTotal 领取次数（按结果分类）
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spl_claims_total",
		Help: "Claim attempts processed, labelled by result.",
	}, []string{"result"})

	// EscrowCallsTotal 托管合约调用次数
	EscrowCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spl_escrow_calls_total",
		Help: "Escrow contract calls, labelled by operation and result.",
	}, []string{"op", "result"})

	// FallbackWritesTotal 降级存储缓冲写入次数
	FallbackWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spl_fallback_writes_total",
		Help: "Writes buffered to the fallback store after a primary failure.",
	})

	// ConfirmationWaitSeconds 等待链上确认耗时
	ConfirmationWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spl_confirmation_wait_seconds",
		Help:    "Time spent waiting for on-chain confirmation.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
