package regions

import (
	"strings"

	"urbaninfra/internal/canon"
	"urbaninfra/internal/metrics"
	"urbaninfra/internal/population"
)

// DefaultMaxResults：搜索结果上限，控制界面渲染成本
const DefaultMaxResults = 30

// Entry：可搜索的扁平条目
type Entry struct {
	DisplayName string
	Number      string
	RegionID    string

	upper string
	key   canon.Key
}

// 文档注释：选区搜索索引
// 背景：启动时构建一次；构建时对每个选区执行人口连接（未命中保持 nil，属于合法终态）
// 约束：结果顺序即数据集顺序，不按相关度排序；空查询不返回任何结果
type Index struct {
	entries []Entry
	max     int
}

// NewIndex：执行人口连接并生成扁平条目；maxResults<=0 时取默认 30
func NewIndex(cat *Catalog, pop *population.Table, maxResults int) *Index {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	subs := cat.SubRegions()
	idx := &Index{entries: make([]Entry, 0, len(subs)), max: maxResults}
	for _, s := range subs {
		s.Population = pop.Lookup(s.Name)
		if s.Population != nil {
			metrics.PopulationJoinsTotal.WithLabelValues("hit").Inc()
		} else {
			metrics.PopulationJoinsTotal.WithLabelValues("miss").Inc()
		}
		idx.entries = append(idx.entries, Entry{
			DisplayName: s.Name,
			Number:      s.Number,
			RegionID:    s.ID,
			upper:       strings.ToUpper(s.Name),
			key:         canon.Spaced(s.Name),
		})
	}
	return idx
}

func (x *Index) Len() int { return len(x.entries) }

// Search：名称子串（不区分大小写）或编号精确匹配
func (x *Index) Search(query string) []Entry {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	qu := strings.ToUpper(q)
	var out []Entry
	for _, e := range x.entries {
		if strings.Contains(e.upper, qu) || (e.Number != "" && e.Number == q) {
			out = append(out, e)
			if len(out) >= x.max {
				break
			}
		}
	}
	return out
}

// Exact：编号精确匹配优先，否则按规范化名称精确匹配；不受结果上限约束
func (x *Index) Exact(query string) []Entry {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	var out []Entry
	for _, e := range x.entries {
		if e.Number != "" && e.Number == q {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	k := canon.Spaced(q)
	for _, e := range x.entries {
		if e.key == k {
			out = append(out, e)
		}
	}
	return out
}
