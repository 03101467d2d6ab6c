package render

import (
	"slices"
	"sync"
)

// Signal：渲染引擎的两个异步进度信号
type Signal int

const (
	TilesLoaded Signal = iota
	EngineIdle
)

func (s Signal) String() string {
	switch s {
	case TilesLoaded:
		return "tiles_loaded"
	case EngineIdle:
		return "engine_idle"
	}
	return "unknown"
}

// Subscription：可取消的订阅令牌
type Subscription interface {
	Cancel()
}

// SignalSource：一次性订阅；fn 至多调用一次
type SignalSource interface {
	Once(sig Signal, fn func()) Subscription
}

// 文档注释：一次性信号分发器，供引擎实现与测试复用
// 约束：Emit 取走该信号当前全部订阅后在锁外回调；Emit 期间新增的订阅等待下一次 Emit
type Emitter struct {
	mu   sync.Mutex
	next uint64
	subs map[Signal]map[uint64]func()
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[Signal]map[uint64]func())}
}

type emitterSub struct {
	e   *Emitter
	sig Signal
	id  uint64
}

func (s emitterSub) Cancel() {
	s.e.mu.Lock()
	delete(s.e.subs[s.sig], s.id)
	s.e.mu.Unlock()
}

func (e *Emitter) Once(sig Signal, fn func()) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	if e.subs[sig] == nil {
		e.subs[sig] = make(map[uint64]func())
	}
	e.subs[sig][e.next] = fn
	return emitterSub{e: e, sig: sig, id: e.next}
}

// Emit：触发信号；返回被通知的订阅数
func (e *Emitter) Emit(sig Signal) int {
	e.mu.Lock()
	pending := e.subs[sig]
	delete(e.subs, sig)
	e.mu.Unlock()
	ids := make([]uint64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	// 按订阅顺序回调
	for _, id := range ids {
		pending[id]()
	}
	return len(ids)
}

// Listeners：当前仍挂着的订阅数
func (e *Emitter) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, m := range e.subs {
		n += len(m)
	}
	return n
}
