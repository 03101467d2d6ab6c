package search

import (
	"container/list"
	"sync"
	"time"

	"urbaninfra/internal/regions"
)

// 文档注释：查询结果的 LRU 缓存（规范化后的查询文本为键）
// 背景：输入框逐字触发查询，相同前缀在短时间内重复出现；索引只读，缓存只需 TTL 兜底
// 约束：值为结果切片的只读视图，调用方不得修改
type lru struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	now  func() time.Time
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k   string
	v   []regions.Entry
	exp time.Time
}

func newLRU(capacity int, ttl time.Duration, now func() time.Time) *lru {
	if now == nil {
		now = time.Now
	}
	return &lru{cap: capacity, ttl: ttl, now: now, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *lru) get(k string) ([]regions.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(kv)
		if c.now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return nil, false
}

func (c *lru) set(k string, v []regions.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = kv{k: k, v: v, exp: c.now().Add(c.ttl)}
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(kv{k: k, v: v, exp: c.now().Add(c.ttl)})
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
