// 包 dataset：静态数据集（边界 GeoJSON、人口表）的读取入口与加载错误类型
package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"urbaninfra/internal/logger"
)

// DataLoadError：数据集拉取或解析失败；启动阶段视为致命错误，不重试
type DataLoadError struct {
	Source string
	Err    error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("data load %s: %v", e.Source, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// Fail：构造 DataLoadError 的便捷函数
func Fail(source string, err error) error {
	return &DataLoadError{Source: source, Err: err}
}

// 文档注释：按来源打开数据集
// 背景：来源既可能是本地路径，也可能是 http(s) 地址（公开仓库的 raw 文件）
// 约束：非 2xx 响应视为失败；调用方负责关闭返回的 ReadCloser；client 为空时使用 30s 超时的默认客户端
func Open(ctx context.Context, client *http.Client, source string) (io.ReadCloser, error) {
	if !isRemote(source) {
		f, err := os.Open(source)
		if err != nil {
			return nil, Fail(source, err)
		}
		return f, nil
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, Fail(source, err)
	}
	logger.L().Debug("dataset_fetch", "src", source)
	resp, err := client.Do(req)
	if err != nil {
		return nil, Fail(source, err)
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return nil, Fail(source, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// ReadAll：打开并完整读取数据集
func ReadAll(ctx context.Context, client *http.Client, source string) ([]byte, error) {
	rc, err := Open(ctx, client, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, Fail(source, err)
	}
	return b, nil
}

func isRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
