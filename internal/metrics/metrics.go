package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_submissions_total",
		Help: "Ward submissions by outcome (success, recovered, failed)",
	}, []string{"outcome"})
	SubmissionDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "urbaninfra_submission_duration_ms",
		Help:    "Primary /analyze call duration in milliseconds",
		Buckets: []float64{50, 100, 500, 1000, 5000, 15000, 30000, 60000, 120000, 180000},
	})
	FallbackProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_fallback_probes_total",
		Help: "Fallback /analysis/latest probes by result",
	}, []string{"result"})
	RenderWaitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_render_waits_total",
		Help: "Render-ready waits by path (settled, degraded, cancelled)",
	}, []string{"path"})
	PopulationJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_population_joins_total",
		Help: "Population join attempts during index build by result (hit, miss)",
	}, []string{"result"})
	ViewTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_view_transitions_total",
		Help: "Drill-down view transitions by target level",
	}, []string{"level"})
	SearchQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_search_queries_total",
		Help: "Total region search queries",
	})
	SearchCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_search_cache_hits_total",
		Help: "Total region search queries answered from cache",
	})
	AnalyzeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_analyze_requests_total",
		Help: "Total /analyze requests by status code class",
	}, []string{"status"})
	AnalyzeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "urbaninfra_analyze_duration_ms",
		Help:    "/analyze handler duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	StoreHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_store_hits_total",
		Help: "Total latest-analysis lookups that found a result",
	})
	StoreMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_store_misses_total",
		Help: "Total latest-analysis lookups without a result",
	})
	StaticMapRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_staticmap_requests_total",
		Help: "Total Static Maps requests",
	})
	StaticMapSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_staticmap_success_total",
		Help: "Total Static Maps successes",
	})
	StaticMapFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_staticmap_fail_total",
		Help: "Total Static Maps failures",
	})
	StaticMapDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "urbaninfra_staticmap_duration_ms",
		Help:    "Static Maps call duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	GeminiRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_gemini_requests_total",
		Help: "Total Gemini generateContent requests",
	})
	GeminiSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_gemini_success_total",
		Help: "Total Gemini requests that returned usable text",
	})
	GeminiFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_gemini_fail_total",
		Help: "Total Gemini failures",
	})
	GeminiDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "urbaninfra_gemini_duration_ms",
		Help:    "Gemini call duration in milliseconds",
		Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000, 60000, 120000},
	})
	PerplexityRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_perplexity_requests_total",
		Help: "Total Perplexity chat requests",
	})
	PerplexitySuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_perplexity_success_total",
		Help: "Total Perplexity successes",
	})
	PerplexityFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_perplexity_fail_total",
		Help: "Total Perplexity failures",
	})
	PerplexityDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "urbaninfra_perplexity_duration_ms",
		Help:    "Perplexity call duration in milliseconds",
		Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000, 60000},
	})
	RecommendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "urbaninfra_recommend_requests_total",
		Help: "Total /recommend requests by status code class",
	}, []string{"status"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urbaninfra_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmissionDurationMs)
	prometheus.MustRegister(FallbackProbesTotal)
	prometheus.MustRegister(RenderWaitsTotal)
	prometheus.MustRegister(PopulationJoinsTotal)
	prometheus.MustRegister(ViewTransitionsTotal)
	prometheus.MustRegister(SearchQueriesTotal)
	prometheus.MustRegister(SearchCacheHitsTotal)
	prometheus.MustRegister(AnalyzeRequestsTotal)
	prometheus.MustRegister(AnalyzeDurationMs)
	prometheus.MustRegister(StoreHitsTotal)
	prometheus.MustRegister(StoreMissesTotal)
	prometheus.MustRegister(StaticMapRequestsTotal)
	prometheus.MustRegister(StaticMapSuccessTotal)
	prometheus.MustRegister(StaticMapFailTotal)
	prometheus.MustRegister(StaticMapDurationMs)
	prometheus.MustRegister(GeminiRequestsTotal)
	prometheus.MustRegister(GeminiSuccessTotal)
	prometheus.MustRegister(GeminiFailTotal)
	prometheus.MustRegister(GeminiDurationMs)
	prometheus.MustRegister(PerplexityRequestsTotal)
	prometheus.MustRegister(PerplexitySuccessTotal)
	prometheus.MustRegister(PerplexityFailTotal)
	prometheus.MustRegister(PerplexityDurationMs)
	prometheus.MustRegister(RecommendRequestsTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
