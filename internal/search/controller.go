// 包 search：搜索框控制器，把自由文本或编号映射到选区并交给视图状态机
package search

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
	"urbaninfra/internal/regions"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 5 * time.Minute
)

var (
	ErrNoMatch   = errors.New("search: no matching sub-region")
	ErrAmbiguous = errors.New("search: query matches several sub-regions")
)

// Selector：接收搜索选中（*view.Machine 满足此接口）
type Selector interface {
	SearchSelect(subID string) error
}

// Options：缓存参数；零值取默认
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// 文档注释：搜索控制器
// 约束：只做查询与转发，不持有视图状态；结果顺序与上限由 regions.Index 决定
type Controller struct {
	idx   *regions.Index
	sel   Selector
	cache *lru
	log   *slog.Logger
}

func NewController(idx *regions.Index, sel Selector, opts Options) *Controller {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Controller{
		idx:   idx,
		sel:   sel,
		cache: newLRU(opts.CacheSize, opts.CacheTTL, opts.Now),
		log:   logger.With("search"),
	}
}

// Query：查询结果（带缓存）；空查询返回空
func (c *Controller) Query(text string) []regions.Entry {
	key := strings.ToUpper(strings.TrimSpace(text))
	if key == "" {
		return nil
	}
	metrics.SearchQueriesTotal.Inc()
	if v, ok := c.cache.get(key); ok {
		metrics.SearchCacheHitsTotal.Inc()
		return v
	}
	res := c.idx.Search(key)
	c.cache.set(key, res)
	c.log.Debug("search_query", "q", key, "results", len(res))
	return res
}

// Select：选中一条结果
func (c *Controller) Select(e regions.Entry) error {
	c.log.Info("search_select", "id", e.RegionID, "name", e.DisplayName, "no", e.Number)
	return c.sel.SearchSelect(e.RegionID)
}

// 文档注释：回车直达
// 规则：编号精确匹配 → 规范化名称精确匹配 → 查询结果恰好一条；多条同名时返回 ErrAmbiguous
func (c *Controller) Go(text string) (regions.Entry, error) {
	var pick []regions.Entry
	if exact := c.idx.Exact(text); len(exact) > 0 {
		pick = exact
	} else {
		pick = c.Query(text)
	}
	switch len(pick) {
	case 0:
		return regions.Entry{}, fmt.Errorf("%w: %q", ErrNoMatch, strings.TrimSpace(text))
	case 1:
		return pick[0], c.Select(pick[0])
	}
	names := make([]string, 0, len(pick))
	for _, e := range pick {
		names = append(names, fmt.Sprintf("%s (%s)", e.DisplayName, e.Number))
	}
	return regions.Entry{}, fmt.Errorf("%w: %q → %s", ErrAmbiguous, strings.TrimSpace(text), strings.Join(names, ", "))
}
