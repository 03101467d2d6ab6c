// 包 perplexity：Perplexity chat completions 客户端，用于本地树种推荐
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const (
	DefaultEndpoint = "https://api.perplexity.ai/chat/completions"
	DefaultModel    = "sonar-pro"

	maxResponse = 1 << 20
	maxSnippet  = 200
)

var ErrMissingKey = errors.New("perplexity: missing api key")

// StatusError：非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("perplexity: HTTP %d", e.Code)
	}
	return fmt.Sprintf("perplexity: HTTP %d: %s", e.Code, e.Body)
}

// Client：HTTP 为空时使用 60s 超时的默认客户端
type Client struct {
	Key         string
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTP        *http.Client
}

func NewClient(key string, hc *http.Client) *Client {
	return &Client{Key: key, Endpoint: DefaultEndpoint, Model: DefaultModel, Temperature: 0.2, MaxTokens: 400, HTTP: hc}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// 文档注释：发送一轮 system + user 对话
// 返回：第一条候选回复的文本；网络错误、非 2xx 或空回复返回错误
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	if c.Key == "" {
		return "", ErrMissingKey
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	b, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Messages:    []message{{Role: "system", Content: system}, {Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.Key)
	req.Header.Set("Content-Type", "application/json")
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	t0 := time.Now()
	metrics.PerplexityRequestsTotal.Inc()
	logger.L().Debug("perplexity_req", "model", model)
	resp, err := client.Do(req)
	if err != nil {
		metrics.PerplexityFailTotal.Inc()
		logger.L().Error("perplexity_http_error", "err", err)
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		metrics.PerplexityFailTotal.Inc()
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.PerplexityFailTotal.Inc()
		logger.L().Error("perplexity_status_error", "status", resp.StatusCode)
		body := strings.TrimSpace(string(raw))
		if len(body) > maxSnippet {
			body = body[:maxSnippet]
		}
		return "", &StatusError{Code: resp.StatusCode, Body: body}
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.PerplexityFailTotal.Inc()
		return "", fmt.Errorf("perplexity: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		metrics.PerplexityFailTotal.Inc()
		return "", errors.New("perplexity: empty response")
	}
	dur := time.Since(t0).Milliseconds()
	metrics.PerplexityDurationMs.Observe(float64(dur))
	metrics.PerplexitySuccessTotal.Inc()
	logger.L().Debug("perplexity_resp", "chars", len(out.Choices[0].Message.Content), "duration_ms", dur)
	return out.Choices[0].Message.Content, nil
}

var (
	numbered  = regexp.MustCompile(`^(?:[-•]\s*)?\d+[.)]\s*(.+)$`)
	bulleted  = regexp.MustCompile(`^[-•]\s*(.+)$`)
	citations = regexp.MustCompile(`(?:\s*\[\d+\])+`)
)

// 文档注释：把编号或项目符号列表拆成条目
// 约束：无法识别任何条目时整段文本作为唯一条目返回；空文本返回 nil
func ParseList(content string) []string {
	var items []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numbered.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
			continue
		}
		if m := bulleted.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) == 0 {
		if s := strings.TrimSpace(content); s != "" {
			return []string{s}
		}
	}
	return items
}

// StripCitations：去掉 [1][2] 形式的引用标记
func StripCitations(s string) string {
	return strings.Join(strings.Fields(citations.ReplaceAllString(s, "")), " ")
}
