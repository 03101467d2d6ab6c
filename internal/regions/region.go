// 包 regions：区域目录（区 / 选区）、边界加载、父级归属解析与可搜索索引
package regions

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Kind：区域层级
type Kind int

const (
	KindGroup Kind = iota
	KindSubRegion
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "subregion"
}

// 文档注释：区域（区或选区）的统一表示
// 背景：两套边界数据各自的属性命名不同，进入核心前统一为 Region
// 约束：身份以 ID 为准，Name 仅用于展示且可能重名；构建后只在人口连接阶段写入 Population
type Region struct {
	ID         string
	Name       string
	Number     string
	Kind       Kind
	ParentID   string
	Geometry   orb.Geometry
	Bound      orb.Bound
	Attributes map[string]any
	Population *int64
}

// Feature：转回 GeoJSON Feature（提交载荷中的 ward_geojson）
func (r *Region) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry)
	f.ID = r.ID
	for k, v := range r.Attributes {
		f.Properties[k] = v
	}
	return f
}

// Center：外包框中心
func (r *Region) Center() orb.Point { return r.Bound.Center() }

var (
	ErrNotFound = errors.New("regions: region not found")
	ErrNoRef    = errors.New("regions: empty feature reference")
)

// EngineHandle：渲染引擎持有的“活”要素句柄，只需能回报区域 ID
type EngineHandle interface {
	RegionID() string
}

// 文档注释：要素引用的标签联合 {Raw(GeoJSON 要素) | Live(引擎句柄)}
// 背景：点击事件给出的是引擎句柄，数据集与外部输入给出的是原始要素；进入核心前经 Catalog.Resolve 归一
type FeatureRef struct {
	raw  *geojson.Feature
	live EngineHandle
}

func Raw(f *geojson.Feature) FeatureRef { return FeatureRef{raw: f} }

func Live(h EngineHandle) FeatureRef { return FeatureRef{live: h} }

func (r FeatureRef) IsRaw() bool  { return r.raw != nil }
func (r FeatureRef) IsLive() bool { return r.live != nil }
