// 包 engine：无界面的模拟渲染引擎，供 CLI 驱动完整的下钻与提交流程
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/regions"
	"urbaninfra/internal/render"
	"urbaninfra/internal/staticmap"
	"urbaninfra/internal/view"
)

const (
	DefaultIdleAfter  = 400 * time.Millisecond
	DefaultTilesAfter = 900 * time.Millisecond
)

// Options：两个信号相对最近一次绘制命令的延迟；DropTiles 模拟瓦片永远不到达
type Options struct {
	Clock      render.Clock
	IdleAfter  time.Duration
	TilesAfter time.Duration
	DropTiles  bool
}

// 文档注释：模拟引擎
// 背景：每次绘制或切换底图都会让真实引擎重新加载瓦片，这里按配置延迟各发一次 idle 与 tiles 信号
// 约束：新的绘制命令会撤销尚未发出的旧信号
type Sim struct {
	*render.Emitter
	clock render.Clock
	opts  Options
	log   *slog.Logger

	mu     sync.Mutex
	style  view.Style
	zoom   float64
	layer  view.Layer
	shown  []*regions.Region
	timers []render.Timer
}

func NewSim(opts Options) *Sim {
	if opts.Clock == nil {
		opts.Clock = render.RealClock()
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = DefaultIdleAfter
	}
	if opts.TilesAfter <= 0 {
		opts.TilesAfter = DefaultTilesAfter
	}
	return &Sim{Emitter: render.NewEmitter(), clock: opts.Clock, opts: opts, zoom: 11, log: logger.With("engine")}
}

func (s *Sim) Display(layer view.Layer, rs []*regions.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layer = layer
	s.shown = append(s.shown[:0:0], rs...)
	s.log.Debug("engine_display", "layer", layer.String(), "features", len(rs))
	s.scheduleLocked()
}

func (s *Sim) ClearOverlays() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = nil
	s.log.Debug("engine_clear")
}

func (s *Sim) FitBounds(b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = float64(staticmap.Zoom(b, nil))
	s.log.Debug("engine_fit", "zoom", s.zoom)
}

func (s *Sim) SetStyle(st view.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = st
	s.log.Debug("engine_style", "style", st.String())
	s.scheduleLocked()
}

func (s *Sim) Camera() view.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view.Camera{Zoom: s.zoom, Style: s.style}
}

// Shown：当前显示的要素
func (s *Sim) Shown() (view.Layer, []*regions.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer, append([]*regions.Region(nil), s.shown...)
}

func (s *Sim) scheduleLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = s.timers[:0]
	s.timers = append(s.timers, s.clock.AfterFunc(s.opts.IdleAfter, func() { s.emit(render.EngineIdle) }))
	if !s.opts.DropTiles {
		s.timers = append(s.timers, s.clock.AfterFunc(s.opts.TilesAfter, func() { s.emit(render.TilesLoaded) }))
	}
}

func (s *Sim) emit(sig render.Signal) {
	n := s.Emit(sig)
	s.log.Debug("engine_signal", "signal", sig.String(), "listeners", n)
}
