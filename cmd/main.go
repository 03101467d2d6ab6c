// 程序入口：分析后端，只负责读取配置、初始化依赖并启动服务；路由注册在 internal/analysis
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"urbaninfra/internal/analysis"
	"urbaninfra/internal/config"
	"urbaninfra/internal/gemini"
	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
	"urbaninfra/internal/middleware"
	"urbaninfra/internal/perplexity"
	"urbaninfra/internal/staticmap"
	"urbaninfra/internal/utils"
	"urbaninfra/internal/version"
)

func main() {
	config.LoadDotenv()
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.Load()
	l.Info("config_loaded", "addr", cfg.Addr, "session_ttl_s", int(cfg.SessionTTL.Seconds()),
		"static_maps", cfg.GoogleMapsAPIKey != "", "commit", version.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 会话存储：优先 Redis（多实例共享），否则进程内存
	var store analysis.Store
	if rc := utils.OpenRedisFromEnv(ctx); rc != nil {
		defer rc.Close()
		store = analysis.NewRedisStore(rc, cfg.SessionTTL)
		l.Info("store_ready", "kind", "redis")
	} else {
		store = analysis.NewMemoryStore(cfg.SessionTTL)
		l.Info("store_ready", "kind", "memory")
	}

	var maps analysis.ImageFetcher
	if cfg.GoogleMapsAPIKey != "" {
		maps = staticmap.NewClient(cfg.GoogleMapsAPIKey, &http.Client{Timeout: 20 * time.Second})
	} else {
		l.Warn("static_maps_disabled", "reason", "GOOGLE_MAPS_API_KEY unset")
	}

	// 外部模型：Gemini 负责绿化评估与建设建议，Perplexity 负责树种建议（缺 key 时降级为说明文字）
	var analyzer analysis.Analyzer = analysis.MetadataAnalyzer{}
	if cfg.GeminiAPIKey != "" {
		analyzer = analysis.AIAnalyzer{
			Base:  analysis.MetadataAnalyzer{},
			Model: gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, &http.Client{Timeout: 120 * time.Second}),
			Trees: perplexity.NewClient(cfg.PerplexityAPIKey, &http.Client{Timeout: 60 * time.Second}),
		}
		if cfg.PerplexityAPIKey == "" {
			l.Warn("tree_suggestions_disabled", "reason", "PERPLEXITY_API_KEY unset")
		}
	} else {
		l.Warn("ai_analysis_disabled", "reason", "GEMINI_API_KEY unset")
	}

	srv := analysis.NewServer(analysis.Options{
		Store:        store,
		Analyzer:     analyzer,
		Maps:         maps,
		SessionTTL:   cfg.SessionTTL,
		SecureCookie: cfg.SecureCookie || cfg.TLSEnable,
	})
	mux := srv.Routes()
	mux.Handle("/metrics", metrics.Handler())

	handler := middleware.CORS(cfg.AllowedOrigins)(mux)
	if cfg.RateLimitEnabled {
		handler = middleware.RateLimit(cfg.RateLimitQPS, cfg.RateLimitBurst)(handler)
	}
	handler = logger.AccessMiddleware(l)(handler)

	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		_ = s.Shutdown(sctx)
	}()

	var err error
	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "urbaninfra.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		if os.Getenv("TLS_REDIRECT_ENABLE") == "true" {
			go redirectToHTTPS(l, cfg.Addr)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		err = s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}

// redirectToHTTPS：可选的 HTTP → HTTPS 跳转监听，目标端口取 HTTPS 服务端口
func redirectToHTTPS(l *slog.Logger, addr string) {
	redirAddr := os.Getenv("TLS_REDIRECT_ADDR")
	if redirAddr == "" {
		redirAddr = ":80"
	}
	httpsPort := strings.TrimPrefix(addr, ":")
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if httpsPort != "" && !strings.Contains(httpsPort, ":") {
			host += ":" + httpsPort
		}
		target := "https://" + host + r.URL.RequestURI()
		l.Debug("http_redirect", "from", r.Host, "to", target)
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+addr)
	_ = http.ListenAndServe(redirAddr, h)
}
