// 包 view：下钻视图状态机（全部区 → 区 → 单个选区），驱动渲染引擎、就绪协调器与提交管线
package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"urbaninfra/internal/regions"
	"urbaninfra/internal/render"
	"urbaninfra/internal/submit"
)

// Level：下钻层级
type Level int

const (
	LevelAllGroups Level = iota
	LevelGroupSelected
	LevelSubRegionSelected
)

func (l Level) String() string {
	switch l {
	case LevelAllGroups:
		return "all_groups"
	case LevelGroupSelected:
		return "group_selected"
	case LevelSubRegionSelected:
		return "subregion_selected"
	}
	return "unknown"
}

// 文档注释：当前下钻状态
// 约束：AllGroups 时两个 ID 均为空；GroupSelected 时只有 GroupID；SubRegionSelected 时两者都有
type State struct {
	Level       Level
	GroupID     string
	SubRegionID string
}

func (s State) String() string {
	switch s.Level {
	case LevelGroupSelected:
		return fmt.Sprintf("%s(%s)", s.Level, s.GroupID)
	case LevelSubRegionSelected:
		return fmt.Sprintf("%s(%s/%s)", s.Level, s.GroupID, s.SubRegionID)
	}
	return s.Level.String()
}

// Style：底图类型
type Style int

const (
	StyleRoadmap Style = iota
	StyleSatellite
)

func (s Style) String() string {
	if s == StyleSatellite {
		return "satellite"
	}
	return "roadmap"
}

// Layer：引擎上的覆盖层类别
type Layer int

const (
	LayerGroups Layer = iota
	LayerSubRegions
	LayerSingle
)

func (l Layer) String() string {
	switch l {
	case LayerGroups:
		return "groups"
	case LayerSubRegions:
		return "subregions"
	}
	return "single"
}

// Camera：引擎当前视角，写入载荷的 map_view
type Camera struct {
	Zoom  float64
	Style Style
}

// 文档注释：渲染引擎协作方
// 背景：引擎只暴露显示要素、适配视野、切换底图与两个一次性信号；
// 信号订阅来自 render.SignalSource，状态机只把它交给协调器
type Engine interface {
	render.SignalSource
	Display(layer Layer, rs []*regions.Region)
	ClearOverlays()
	FitBounds(b orb.Bound)
	SetStyle(s Style)
	Camera() Camera
}

// Submitter：提交管线（*submit.Pipeline 满足此接口）
type Submitter interface {
	Submit(ctx context.Context, p submit.Payload, opts ...submit.Option) submit.Outcome
}

// 文档注释：提交结果的导航副作用
// 约束：在状态机锁内调用，实现不得同步回调 Machine 的方法
type Navigator interface {
	Navigate(target string)
	Fail(message string)
}

var (
	ErrIllegalTransition = errors.New("view: illegal transition")
	ErrUnknownRegion     = errors.New("view: unknown region")
	ErrNoParent          = errors.New("view: sub-region has no parent group")
	ErrNoRetry           = errors.New("view: nothing to retry")
)
