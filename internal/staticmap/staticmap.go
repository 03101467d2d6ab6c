// 包 staticmap：Google Static Maps 卫星图拉取，用于没有上传图片时的分析输入
package staticmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const (
	DefaultEndpoint = "https://maps.googleapis.com/maps/api/staticmap"
	MaxPathPoints   = 100

	pathStyle    = "fillcolor:0x3300FF66|color:0x0044FF|weight:3|"
	minZoom      = 12
	maxZoom      = 19
	defaultZoom  = 15
	smallImage   = 5000
	maxImageSize = 16 << 20
)

var ErrMissingKey = errors.New("staticmap: missing api key")

// 文档注释：一次静态图请求
// 约束：Center 必填；Bound 四个坐标都非零时才参与缩放级别推算，否则退回 MapZoom
type Request struct {
	Center   orb.Point
	Bound    orb.Bound
	MapZoom  *float64
	Boundary orb.Geometry
}

// Client：静态图客户端；HTTP 为空时使用 30s 超时的默认客户端
type Client struct {
	Key      string
	Endpoint string
	HTTP     *http.Client
}

func NewClient(key string, hc *http.Client) *Client {
	return &Client{Key: key, Endpoint: DefaultEndpoint, HTTP: hc}
}

// 文档注释：由外包框跨度推算缩放级别
// 背景：跨度放大 1.5 倍留边，按阈值映射到 13~17；没有可用外包框时取地图缩放减一（下限 12）
// 约束：结果总在 [12, 19]
func Zoom(b orb.Bound, mapZoom *float64) int {
	z := -1
	if b.Min[0] != 0 && b.Min[1] != 0 && b.Max[0] != 0 && b.Max[1] != 0 {
		span := math.Max(math.Abs(b.Max.Lat()-b.Min.Lat()), math.Abs(b.Max.Lon()-b.Min.Lon())) * 1.5
		switch {
		case span > 0.05:
			z = 13
		case span > 0.02:
			z = 14
		case span > 0.01:
			z = 15
		case span > 0.005:
			z = 16
		default:
			z = 17
		}
	}
	if z < 0 {
		mz := defaultZoom
		if mapZoom != nil {
			mz = int(*mapZoom)
		}
		z = max(minZoom, mz-1)
	}
	return min(max(z, minZoom), maxZoom)
}

// Simplify：按固定步长抽稀到不超过 maxPoints 个点
func Simplify(r orb.Ring, maxPoints int) orb.Ring {
	if len(r) <= maxPoints || maxPoints <= 0 {
		return r
	}
	step := (len(r) + maxPoints - 1) / maxPoints
	out := make(orb.Ring, 0, maxPoints+1)
	for i := 0; i < len(r); i += step {
		out = append(out, r[i])
	}
	return out
}

// 文档注释：生成 path 参数（外环，lat,lng 顺序，首尾闭合）
// 约束：只画 Polygon 或 MultiPolygon 第一个多边形的外环；其他几何返回空串
func Path(g orb.Geometry) string {
	var ring orb.Ring
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			ring = v[0]
		}
	case orb.MultiPolygon:
		if len(v) > 0 && len(v[0]) > 0 {
			ring = v[0][0]
		}
	}
	if len(ring) == 0 {
		return ""
	}
	s := Simplify(ring, MaxPathPoints)
	if s[0] != s[len(s)-1] {
		s = append(s[:len(s):len(s)], s[0])
	}
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = formatLatLng(p)
	}
	return pathStyle + strings.Join(parts, "|")
}

func formatLatLng(p orb.Point) string {
	return strconv.FormatFloat(p.Lat(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', -1, 64)
}

// Params：请求参数（不含 key）
func Params(req Request) url.Values {
	q := url.Values{}
	q.Set("center", formatLatLng(req.Center))
	q.Set("zoom", strconv.Itoa(Zoom(req.Bound, req.MapZoom)))
	q.Set("size", "640x640")
	q.Set("maptype", "satellite")
	q.Set("scale", "2")
	q.Set("format", "png")
	if p := Path(req.Boundary); p != "" {
		q.Set("path", p)
	}
	return q
}

// 文档注释：拉取卫星图 PNG
// 参数：ctx 控制超时与取消；req 为中心点、外包框与选区边界
// 返回：图片字节；非 2xx 或网络错误返回错误，由上层降级为无图分析
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if c.Key == "" {
		return nil, ErrMissingKey
	}
	q := Params(req)
	q.Set("key", c.Key)
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	t0 := time.Now()
	metrics.StaticMapRequestsTotal.Inc()
	logger.L().Debug("staticmap_req", "center", q.Get("center"), "zoom", q.Get("zoom"), "has_boundary", q.Get("path") != "")
	resp, err := client.Do(hreq)
	if err != nil {
		logger.L().Error("staticmap_http_error", "err", err)
		metrics.StaticMapFailTotal.Inc()
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.StaticMapFailTotal.Inc()
		logger.L().Error("staticmap_status_error", "status", resp.StatusCode)
		return nil, fmt.Errorf("staticmap: HTTP %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		metrics.StaticMapFailTotal.Inc()
		return nil, err
	}
	dur := time.Since(t0).Milliseconds()
	metrics.StaticMapDurationMs.Observe(float64(dur))
	if len(b) < smallImage {
		// 过小的响应通常是错误提示图
		logger.L().Warn("staticmap_small_image", "bytes", len(b))
	}
	metrics.StaticMapSuccessTotal.Inc()
	logger.L().Debug("staticmap_resp", "bytes", len(b), "content_type", resp.Header.Get("Content-Type"), "duration_ms", dur)
	return b, nil
}
