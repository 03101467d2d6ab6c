// 包 render：把渲染引擎两个不可靠、无序的进度信号折叠为一次有界的 ready 事件
package render

import (
	"log/slog"
	"sync"
	"time"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const (
	DefaultSettle = 3 * time.Second
	DefaultGrace  = 8 * time.Second
)

// Ready：一次等待的结果；Degraded 表示超出等待上限后按尽力而为继续（不是错误）
type Ready struct {
	Degraded bool
	Reason   string
	Elapsed  time.Duration
}

// Options：等待参数，零值取默认 3s / 8s
type Options struct {
	Settle time.Duration
	Grace  time.Duration
}

// 文档注释：渲染就绪协调器
// 背景：tiles_loaded 与 engine_idle 单独都不能说明画面已定稿，二者到达顺序也不确定
// 协议：idle 在 tiles 之后 → 静置 settle 后就绪；idle 在 tiles 之前 → 最多再等 grace 的 tiles，
// 到达则静置后就绪，否则降级就绪；另设 grace+settle 的总上限，覆盖 idle 永不到达的情况
// 约束：同一时刻只有一个等待周期；每个周期 ready 至多触发一次，触发后撤销全部订阅与定时器
type Coordinator struct {
	clock  Clock
	src    SignalSource
	settle time.Duration
	grace  time.Duration
	log    *slog.Logger

	mu  sync.Mutex
	gen uint64
	cur *cycle
}

type cycle struct {
	gen     uint64
	armedAt time.Time
	onReady func(Ready)

	tiles bool
	idle  bool
	done  bool

	subs    []Subscription
	settleT Timer
	graceT  Timer
	capT    Timer
}

// Token：一次 Arm 的取消令牌
type Token struct {
	c   *Coordinator
	gen uint64
}

func NewCoordinator(clock Clock, src SignalSource, opts Options) *Coordinator {
	if clock == nil {
		clock = RealClock()
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Coordinator{clock: clock, src: src, settle: opts.Settle, grace: opts.Grace, log: logger.With("render")}
}

// Arm：开始新的等待周期，并取消仍在进行的上一周期
func (c *Coordinator) Arm(onReady func(Ready)) *Token {
	c.mu.Lock()
	prev := c.detachLocked()
	c.gen++
	gen := c.gen
	cy := &cycle{gen: gen, armedAt: c.clock.Now(), onReady: onReady}
	c.cur = cy
	c.mu.Unlock()

	if prev != nil {
		prev.release()
		metrics.RenderWaitsTotal.WithLabelValues("cancelled").Inc()
		c.log.Debug("render_rearm_cancelled", "gen", prev.gen)
	}

	tilesSub := c.src.Once(TilesLoaded, func() { c.onTiles(gen) })
	idleSub := c.src.Once(EngineIdle, func() { c.onIdle(gen) })
	capT := c.clock.AfterFunc(c.grace+c.settle, func() {
		c.fire(gen, true, "ready_bound_exceeded")
	})

	c.mu.Lock()
	if c.cur == cy && !cy.done {
		cy.subs = append(cy.subs, tilesSub, idleSub)
		cy.capT = capT
		c.mu.Unlock()
	} else {
		c.mu.Unlock()
		tilesSub.Cancel()
		idleSub.Cancel()
		capT.Stop()
	}
	c.log.Debug("render_armed", "gen", gen, "settle_ms", c.settle.Milliseconds(), "grace_ms", c.grace.Milliseconds())
	return &Token{c: c, gen: gen}
}

// Cancel：取消当前周期（若有）
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cy := c.detachLocked()
	c.mu.Unlock()
	if cy != nil {
		cy.release()
		metrics.RenderWaitsTotal.WithLabelValues("cancelled").Inc()
		c.log.Debug("render_cancelled", "gen", cy.gen)
	}
}

// Pending：是否存在未完成的等待周期
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && !c.cur.done
}

// Cancel：仅当令牌对应的周期仍为当前周期时取消
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	c := t.c
	c.mu.Lock()
	var cy *cycle
	if c.cur != nil && c.cur.gen == t.gen {
		cy = c.detachLocked()
	}
	c.mu.Unlock()
	if cy != nil {
		cy.release()
		metrics.RenderWaitsTotal.WithLabelValues("cancelled").Inc()
		c.log.Debug("render_cancelled", "gen", cy.gen)
	}
}

// detachLocked：摘下未完成的当前周期并标记完成；调用方在锁外 release
func (c *Coordinator) detachLocked() *cycle {
	cy := c.cur
	c.cur = nil
	if cy == nil || cy.done {
		return nil
	}
	cy.done = true
	return cy
}

func (c *Coordinator) current(gen uint64) *cycle {
	if c.cur == nil || c.cur.gen != gen || c.cur.done {
		return nil
	}
	return c.cur
}

func (c *Coordinator) onTiles(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cy := c.current(gen)
	if cy == nil {
		return
	}
	cy.tiles = true
	c.log.Debug("render_tiles_loaded", "gen", gen, "idle_seen", cy.idle)
	if cy.idle {
		if cy.graceT != nil {
			cy.graceT.Stop()
			cy.graceT = nil
		}
		c.startSettleLocked(cy)
	}
}

func (c *Coordinator) onIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cy := c.current(gen)
	if cy == nil {
		return
	}
	cy.idle = true
	c.log.Debug("render_engine_idle", "gen", gen, "tiles_seen", cy.tiles)
	if cy.tiles {
		c.startSettleLocked(cy)
		return
	}
	cy.graceT = c.clock.AfterFunc(c.grace, func() {
		c.fire(gen, true, "tiles_not_loaded_within_grace")
	})
}

func (c *Coordinator) startSettleLocked(cy *cycle) {
	if cy.settleT != nil {
		return
	}
	gen := cy.gen
	cy.settleT = c.clock.AfterFunc(c.settle, func() {
		c.fire(gen, false, "settled")
	})
}

func (c *Coordinator) fire(gen uint64, degraded bool, reason string) {
	c.mu.Lock()
	cy := c.current(gen)
	if cy == nil {
		c.mu.Unlock()
		return
	}
	cy.done = true
	c.cur = nil
	elapsed := c.clock.Now().Sub(cy.armedAt)
	c.mu.Unlock()

	cy.release()
	r := Ready{Degraded: degraded, Reason: reason, Elapsed: elapsed}
	if degraded {
		metrics.RenderWaitsTotal.WithLabelValues("degraded").Inc()
		c.log.Warn("render_degraded", "gen", gen, "reason", reason, "elapsed_ms", elapsed.Milliseconds())
	} else {
		metrics.RenderWaitsTotal.WithLabelValues("settled").Inc()
	}
	c.log.Info("render_ready_fired", "gen", gen, "degraded", degraded, "elapsed_ms", elapsed.Milliseconds())
	if cy.onReady != nil {
		cy.onReady(r)
	}
}

// release：撤销订阅并停止定时器；只在周期已标记完成后调用
func (cy *cycle) release() {
	for _, s := range cy.subs {
		s.Cancel()
	}
	for _, t := range []Timer{cy.settleT, cy.graceT, cy.capT} {
		if t != nil {
			t.Stop()
		}
	}
}
