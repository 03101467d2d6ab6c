// 包 gemini：Gemini generateContent REST 客户端，用于绿化评估与建设建议
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-2.5-pro"

	maxResponse = 4 << 20
	maxSnippet  = 200
)

var ErrMissingKey = errors.New("gemini: missing api key")

// Part：一段输入；Text 为空且 Data 非空时按内联图片发送
type Part struct {
	Text string
	MIME string
	Data []byte
}

// TextPart / ImagePart：构造便捷函数
func TextPart(s string) Part               { return Part{Text: s} }
func ImagePart(mime string, b []byte) Part { return Part{MIME: mime, Data: b} }

// StatusError：非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gemini: HTTP %d", e.Code)
	}
	return fmt.Sprintf("gemini: HTTP %d: %s", e.Code, e.Body)
}

// Client：HTTP 为空时使用 120s 超时的默认客户端
type Client struct {
	Key      string
	Endpoint string
	Model    string
	HTTP     *http.Client
}

func NewClient(key, model string, hc *http.Client) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{Key: key, Endpoint: DefaultEndpoint, Model: model, HTTP: hc}
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// 文档注释：一次 generateContent 调用
// 参数：parts 按顺序放入同一条 user 消息
// 返回：第一段非空文本；没有可用文本（例如被安全策略拦截）时返回错误
func (c *Client) Generate(ctx context.Context, parts ...Part) (string, error) {
	if c.Key == "" {
		return "", ErrMissingKey
	}
	body := generateRequest{Contents: []content{{Role: "user", Parts: make([]wirePart, 0, len(parts))}}}
	for _, p := range parts {
		if p.Text == "" && len(p.Data) > 0 {
			body.Contents[0].Parts = append(body.Contents[0].Parts, wirePart{InlineData: &inlineData{
				MIMEType: p.MIME,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		body.Contents[0].Parts = append(body.Contents[0].Parts, wirePart{Text: p.Text})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	url := strings.TrimRight(endpoint, "/") + "/models/" + model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.Key)
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	t0 := time.Now()
	metrics.GeminiRequestsTotal.Inc()
	logger.L().Debug("gemini_req", "model", model, "parts", len(parts))
	resp, err := client.Do(req)
	if err != nil {
		metrics.GeminiFailTotal.Inc()
		logger.L().Error("gemini_http_error", "err", err)
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		metrics.GeminiFailTotal.Inc()
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.GeminiFailTotal.Inc()
		logger.L().Error("gemini_status_error", "status", resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode, Body: snippet(string(raw))}
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.GeminiFailTotal.Inc()
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeminiDurationMs.Observe(float64(dur))
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				metrics.GeminiSuccessTotal.Inc()
				logger.L().Debug("gemini_resp", "chars", len(p.Text), "duration_ms", dur)
				return p.Text, nil
			}
		}
	}
	metrics.GeminiFailTotal.Inc()
	reason := ""
	if out.PromptFeedback != nil {
		reason = out.PromptFeedback.BlockReason
	}
	logger.L().Warn("gemini_empty_response", "block_reason", reason)
	return "", fmt.Errorf("gemini: no usable text (block_reason=%q)", reason)
}

// 文档注释：把模型返回的 JSON 文本解码到 v
// 背景：模型常把 JSON 包在 ``` 代码块里，并带 json 语言标记
// 约束：解码失败时错误里只带前 200 个字符
func DecodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if s == "" {
		return errors.New("gemini: empty response")
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.Trim(strings.TrimSpace(s), "`")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") && (len(s) == 4 || strings.ContainsRune("\r\n ", rune(s[4]))) {
		s = strings.TrimLeft(s[4:], " \r\n")
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("gemini: invalid JSON %q: %w", snippet(s), err)
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSnippet {
		return s[:maxSnippet]
	}
	return s
}
