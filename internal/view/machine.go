package view

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
	"urbaninfra/internal/regions"
	"urbaninfra/internal/render"
	"urbaninfra/internal/submit"
)

// Options：状态机的可注入依赖；零值使用真实时钟与默认等待参数
type Options struct {
	Clock  render.Clock
	Render render.Options
}

type attempt struct {
	gen      uint64
	subID    string
	payload  submit.Payload
	inflight bool
	outcome  submit.Outcome
}

// 文档注释：下钻视图状态机
// 背景：用户操作、两个渲染信号与网络响应的到达顺序互不保证；状态与代数（gen）由本结构独占
// 约束：每次状态变更 gen 加一、取消未完成的就绪等待、先清除旧覆盖层再绘制新层；
// 就绪回调与提交结果只在 gen 未变时生效，过期的导航副作用直接丢弃
type Machine struct {
	cat   *regions.Catalog
	eng   Engine
	sub   Submitter
	nav   Navigator
	coord *render.Coordinator
	log   *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	state  State
	style  Style
	gen    uint64
	last   *attempt
	wg     sync.WaitGroup
}

func New(cat *regions.Catalog, eng Engine, sub Submitter, nav Navigator, opts Options) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cat:    cat,
		eng:    eng,
		sub:    sub,
		nav:    nav,
		coord:  render.NewCoordinator(opts.Clock, eng, opts.Render),
		log:    logger.With("view"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start：进入初始状态并绘制全部区；ctx 作为后续提交请求的父上下文
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.style = StyleRoadmap
	m.eng.SetStyle(StyleRoadmap)
	m.enterLocked(State{Level: LevelAllGroups})
	m.renderAllLocked()
}

// State：当前状态快照
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectGroup：AllGroups → GroupSelected
func (m *Machine) SelectGroup(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Level != LevelAllGroups {
		return fmt.Errorf("%w: select group from %s", ErrIllegalTransition, m.state)
	}
	g, err := m.regionLocked(groupID, regions.KindGroup)
	if err != nil {
		return err
	}
	m.enterLocked(State{Level: LevelGroupSelected, GroupID: g.ID})
	m.renderGroupLocked(g)
	return nil
}

// SelectSubRegion：GroupSelected → SubRegionSelected（选区必须属于当前区）
func (m *Machine) SelectSubRegion(subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Level != LevelGroupSelected {
		return fmt.Errorf("%w: select sub-region from %s", ErrIllegalTransition, m.state)
	}
	s, err := m.regionLocked(subID, regions.KindSubRegion)
	if err != nil {
		return err
	}
	if s.ParentID != m.state.GroupID {
		return fmt.Errorf("%w: %s is not in group %s", ErrIllegalTransition, s.ID, m.state.GroupID)
	}
	parent, _ := m.cat.Parent(s)
	m.enterSingleLocked(s, parent)
	return nil
}

// 文档注释：搜索选中，任意状态直达 SubRegionSelected
// 异常：父级未解析的选区返回 ErrNoParent（仍可被搜索到，但无法进入单选区视图）
func (m *Machine) SearchSelect(subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.regionLocked(subID, regions.KindSubRegion)
	if err != nil {
		return err
	}
	parent, ok := m.cat.Parent(s)
	if !ok {
		return fmt.Errorf("%w: %s (%s)", ErrNoParent, s.Name, s.ID)
	}
	m.enterSingleLocked(s, parent)
	return nil
}

// SelectFeature：点击事件入口；区要素走 SelectGroup，选区要素走 SelectSubRegion
func (m *Machine) SelectFeature(ref regions.FeatureRef) error {
	r, err := m.cat.Resolve(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownRegion, err)
	}
	if r.Kind == regions.KindGroup {
		return m.SelectGroup(r.ID)
	}
	return m.SelectSubRegion(r.ID)
}

// 文档注释：返回上一层
// 约束：AllGroups 上的 Back 为恒等转换，不重绘也不推进 gen
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Level {
	case LevelGroupSelected:
		m.enterLocked(State{Level: LevelAllGroups})
		m.renderAllLocked()
	case LevelSubRegionSelected:
		g, ok := m.cat.Region(m.state.GroupID)
		if !ok {
			return fmt.Errorf("%w: group %s", ErrUnknownRegion, m.state.GroupID)
		}
		m.enterLocked(State{Level: LevelGroupSelected, GroupID: g.ID})
		m.renderGroupLocked(g)
	}
	return nil
}

// 文档注释：重新提交上一次失败的载荷
// 约束：仅当仍停留在同一选区、上次结果为 Failed 且没有进行中的提交；复用原载荷，不重新等待渲染
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.last
	if a == nil || a.inflight || a.outcome.OK() ||
		m.state.Level != LevelSubRegionSelected || a.subID != m.state.SubRegionID {
		return ErrNoRetry
	}
	m.gen++
	m.log.Info("view_retry", "subregion", a.subID, "gen", m.gen)
	m.startSubmitLocked(a.subID, a.payload)
	return nil
}

// Wait：等待进行中的提交结束（CLI 与测试使用）
func (m *Machine) Wait() { m.wg.Wait() }

// Close：取消等待与进行中的提交请求
func (m *Machine) Close() {
	m.mu.Lock()
	m.gen++
	m.coord.Cancel()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Machine) regionLocked(id string, kind regions.Kind) (*regions.Region, error) {
	r, ok := m.cat.Region(id)
	if !ok || r.Kind != kind {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownRegion, kind, id)
	}
	return r, nil
}

// enterLocked：所有状态变更的唯一入口
func (m *Machine) enterLocked(next State) {
	prev := m.state
	m.gen++
	m.coord.Cancel()
	m.eng.ClearOverlays()
	m.state = next
	if prev.Level == LevelSubRegionSelected && next.Level != LevelSubRegionSelected {
		m.setStyleLocked(StyleRoadmap)
	}
	metrics.ViewTransitionsTotal.WithLabelValues(next.Level.String()).Inc()
	m.log.Info("view_transition", "from", prev.String(), "to", next.String(), "gen", m.gen)
}

func (m *Machine) setStyleLocked(s Style) {
	if m.style == s {
		return
	}
	m.style = s
	m.eng.SetStyle(s)
}

func (m *Machine) renderAllLocked() {
	gs := m.cat.Groups()
	m.eng.Display(LayerGroups, gs)
	if len(gs) > 0 {
		b := gs[0].Bound
		for _, g := range gs[1:] {
			b = b.Union(g.Bound)
		}
		m.eng.FitBounds(b)
	}
}

func (m *Machine) renderGroupLocked(g *regions.Region) {
	m.eng.Display(LayerSubRegions, m.cat.Members(g.ID))
	m.eng.FitBounds(g.Bound)
}

// 文档注释：进入单选区视图
// 流程：状态变更（取消旧等待）→ 先布置就绪等待 → 切换卫星底图并绘制选区；
// 就绪后在回调中构建载荷并异步提交
func (m *Machine) enterSingleLocked(s, parent *regions.Region) {
	m.enterLocked(State{Level: LevelSubRegionSelected, GroupID: parent.ID, SubRegionID: s.ID})
	gen := m.gen
	m.coord.Arm(func(r render.Ready) { m.onReady(gen, s, parent, r) })
	m.setStyleLocked(StyleSatellite)
	m.eng.Display(LayerSingle, []*regions.Region{s})
	m.eng.FitBounds(s.Bound)
}

func (m *Machine) onReady(gen uint64, s, parent *regions.Region, r render.Ready) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		m.log.Debug("view_ready_stale", "gen", gen, "current", m.gen)
		return
	}
	if r.Degraded {
		m.log.Warn("view_render_degraded", "subregion", s.ID, "reason", r.Reason, "elapsed_ms", r.Elapsed.Milliseconds())
	}
	m.startSubmitLocked(s.ID, m.buildPayloadLocked(s, parent))
}

// buildPayloadLocked：载荷在就绪时刻构建，之后不再修改
func (m *Machine) buildPayloadLocked(s, parent *regions.Region) submit.Payload {
	cam := m.eng.Camera()
	var pop *int64
	if s.Population != nil {
		v := *s.Population
		pop = &v
	}
	return submit.Payload{
		RegionID:        s.ID,
		RegionName:      s.Name,
		RegionNumber:    s.Number,
		ParentGroupName: parent.Name,
		Population:      pop,
		Coordinates:     submit.NewCoordinates(s.Bound),
		MapView:         submit.MapView{Zoom: cam.Zoom, MapTypeID: cam.Style.String()},
		Geometry:        s.Feature(),
	}
}

func (m *Machine) startSubmitLocked(subID string, p submit.Payload) {
	gen := m.gen
	m.last = &attempt{gen: gen, subID: subID, payload: p, inflight: true}
	m.wg.Add(1)
	ctx := m.ctx
	go func() {
		defer m.wg.Done()
		out := m.sub.Submit(ctx, p)
		m.applyOutcome(gen, p, out)
	}()
}

func (m *Machine) applyOutcome(gen uint64, p submit.Payload, out submit.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != nil && m.last.gen == gen {
		m.last.inflight = false
		m.last.outcome = out
	}
	if gen != m.gen {
		m.log.Info("submit_outcome_stale", "subregion", p.RegionID, "status", out.Status.String(), "gen", gen, "current", m.gen)
		return
	}
	if out.OK() {
		m.nav.Navigate(out.RedirectTarget)
		return
	}
	m.nav.Fail(failureMessage(p, out))
}

func failureMessage(p submit.Payload, out submit.Outcome) string {
	return fmt.Sprintf("Analysis of %s failed: %v. Retry, or select the ward again.", p.RegionName, out.Err)
}

// Bounds：当前状态对应的视野范围（CLI 展示用）
func (m *Machine) Bounds() orb.Bound {
	st := m.State()
	id := st.SubRegionID
	if id == "" {
		id = st.GroupID
	}
	if r, ok := m.cat.Region(id); ok {
		return r.Bound
	}
	var b orb.Bound
	for i, g := range m.cat.Groups() {
		if i == 0 {
			b = g.Bound
			continue
		}
		b = b.Union(g.Bound)
	}
	return b
}
