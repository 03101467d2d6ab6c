// 包 submit：把选区载荷提交到分析后端，主请求失败时用“最新结果”探测做兜底恢复
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const (
	DefaultTimeout         = 180 * time.Second
	DefaultFallbackTimeout = 5 * time.Second

	analyzePath = "/analyze"
	latestPath  = "/analysis/latest"
	healthPath  = "/health"

	maxResponseBody = 1 << 20
)

// Config：后端地址与超时
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	FallbackTimeout time.Duration
	// Transport 为空时使用 http.DefaultTransport（测试可注入）
	Transport http.RoundTripper
}

// 文档注释：提交管线
// 背景：后端分析耗时长，响应可能在分析完成后丢失；最新结果按会话保存，因此主请求与探测共享 cookie
// 约束：单次尝试，不自动重试；每次提交的错误都收敛为 Outcome，不向外抛出
type Pipeline struct {
	base      *url.URL
	client    *http.Client
	probe     *http.Client
	timeout   time.Duration
	fbTimeout time.Duration
	log       *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend base url %q: scheme and host required", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = DefaultFallbackTimeout
	}
	tr := cfg.Transport
	if tr == nil {
		tr = http.DefaultTransport
	}
	return &Pipeline{
		base:   base,
		client: &http.Client{Transport: tr, Jar: jar},
		probe: &http.Client{
			Transport: tr,
			Jar:       jar,
			// 探测不跟随跳转：后端无结果时会重定向到首页
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		timeout:   cfg.Timeout,
		fbTimeout: cfg.FallbackTimeout,
		log:       logger.With("submit"),
	}, nil
}

// BaseURL：后端根地址
func (p *Pipeline) BaseURL() string { return p.base.String() }

type image struct {
	name string
	data []byte
}

// Option：单次提交选项
type Option func(*image)

// WithImage：以 multipart 形式附带卫星图（satellite_image）
func WithImage(filename string, data []byte) Option {
	return func(im *image) {
		im.name = filename
		im.data = data
	}
}

// 文档注释：提交一次载荷
// 流程：序列化 → POST /analyze（超时单独分类）→ 解析 redirect_url；
// 非 2xx 但带 redirect_url 视为成功，其余非 2xx 为 Failed(server)；
// 网络失败或超时 → GET /analysis/latest（短超时）→ 2xx 为 Recovered，否则 Failed(fallback_exhausted)
func (p *Pipeline) Submit(ctx context.Context, payload Payload, opts ...Option) Outcome {
	var im image
	for _, o := range opts {
		o(&im)
	}
	body, contentType, err := encode(payload, im)
	if err != nil {
		return p.finish(Outcome{Status: StatusFailed, Err: &Error{Kind: KindEncode, Err: err}})
	}

	p.log.Info("submit_start", "ward", payload.RegionName, "ward_no", payload.RegionNumber,
		"district", payload.ParentGroupName, "has_image", im.data != nil, "bytes", len(body))
	t0 := time.Now()
	redirect, status, err := p.post(ctx, body, contentType)
	metrics.SubmissionDurationMs.Observe(float64(time.Since(t0).Milliseconds()))

	if err == nil {
		return p.finish(Outcome{Status: StatusSuccess, RedirectTarget: redirect})
	}
	var se *Error
	if !errors.As(err, &se) {
		se = &Error{Kind: KindNetwork, Err: err}
	}
	p.log.Warn("submit_http_error", "kind", se.Kind.String(), "status", status, "err", se.Err)
	if se.Kind == KindServer {
		return p.finish(Outcome{Status: StatusFailed, Err: se})
	}
	if ctx.Err() != nil {
		// 调用方主动取消，不再探测
		return p.finish(Outcome{Status: StatusFailed, Err: se})
	}
	return p.finish(p.fallback(ctx, se))
}

func (p *Pipeline) finish(o Outcome) Outcome {
	metrics.SubmissionsTotal.WithLabelValues(o.Status.String()).Inc()
	if o.Status == StatusFailed {
		p.log.Error("submit_failed", "err", o.Err)
	} else {
		p.log.Info("submit_done", "status", o.Status.String(), "redirect", o.RedirectTarget)
	}
	return o
}

func (p *Pipeline) post(ctx context.Context, body []byte, contentType string) (string, int, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, p.endpoint(analyzePath), bytes.NewReader(body))
	if err != nil {
		return "", 0, &Error{Kind: KindEncode, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, classifyTransport(ctx, cctx, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", resp.StatusCode, classifyTransport(ctx, cctx, err)
	}

	var parsed struct {
		RedirectURL string `json:"redirect_url"`
		Error       string `json:"error"`
	}
	_ = json.Unmarshal(raw, &parsed)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if parsed.RedirectURL != "" {
		if !ok {
			p.log.Warn("submit_partial_success", "status", resp.StatusCode)
		}
		return p.resolve(parsed.RedirectURL), resp.StatusCode, nil
	}
	if ok {
		return "", resp.StatusCode, &Error{Kind: KindServer, Status: resp.StatusCode, Err: errors.New("response missing redirect_url")}
	}
	msg := parsed.Error
	if msg == "" {
		msg = strings.TrimSpace(snippet(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return "", resp.StatusCode, &Error{Kind: KindServer, Status: resp.StatusCode, Err: errors.New(msg)}
}

// classifyTransport：本次请求的超时单独分类，其余均视为网络错误
func classifyTransport(parent, cctx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func (p *Pipeline) fallback(ctx context.Context, orig *Error) Outcome {
	p.log.Info("submit_fallback_start", "reason", orig.Kind.String())
	status, err := p.getStatus(ctx, latestPath, p.fbTimeout)
	if err == nil && status >= 200 && status < 300 {
		metrics.FallbackProbesTotal.WithLabelValues("ok").Inc()
		target := p.endpoint(latestPath)
		p.log.Info("submit_fallback_ok", "redirect", target)
		return Outcome{Status: StatusRecovered, RedirectTarget: target, Err: orig}
	}
	metrics.FallbackProbesTotal.WithLabelValues("fail").Inc()
	p.log.Warn("submit_fallback_failed", "status", status, "err", err)
	return Outcome{Status: StatusFailed, Err: &Error{Kind: KindFallbackExhausted, Status: status, Err: orig}}
}

// 文档注释：心跳检测
// 背景：访问 /health 用于探测可用性；非 200 视为不可用
func (p *Pipeline) Health(ctx context.Context) error {
	status, err := p.getStatus(ctx, healthPath, p.fbTimeout)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("health: HTTP %d", status)
	}
	return nil
}

func (p *Pipeline) getStatus(ctx context.Context, path string, timeout time.Duration) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, p.endpoint(path), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.probe.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *Pipeline) endpoint(path string) string { return p.base.String() + path }

// resolve：相对地址按后端根地址解析为绝对地址
func (p *Pipeline) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return p.base.String() + ref
	}
	return p.base.ResolveReference(u).String()
}

func encode(payload Payload, im image) ([]byte, string, error) {
	if im.data == nil {
		b, err := json.Marshal(struct {
			Metadata Payload `json:"metadata"`
		}{payload})
		return b, "application/json", err
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("metadata_json", string(meta)); err != nil {
		return nil, "", err
	}
	name := im.name
	if name == "" {
		name = "ward_snapshot.png"
	}
	fw, err := mw.CreateFormFile("satellite_image", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(im.data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func snippet(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}
