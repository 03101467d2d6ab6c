// 包 analysis：分析后端（POST /analyze、GET /analysis/latest、GET /health），结果按会话保存
package analysis

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"urbaninfra/internal/staticmap"
	"urbaninfra/internal/submit"
)

// 会话保存与分析输入中剔除的大字段
var bulkyKeys = []string{"ward_geojson", "coordinates", "map_view"}

// Sanitize：浅拷贝并剔除几何、坐标与视图字段
func Sanitize(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, k := range bulkyKeys {
		delete(out, k)
	}
	return out
}

// 文档注释：构建送入分析器的精简元数据
// 背景：坐标保留 6 位小数（约 0.1 米）已足够，多余精度只会放大输入
// 约束：center → center_point，bounding_box 原样结构，map_view.zoom → map_zoom
func BuildAIMetadata(meta map[string]any) map[string]any {
	out := Sanitize(meta)
	w := parseWard(meta)
	if w.Coordinates != nil {
		c := w.Coordinates
		if c.Center != nil {
			out["center_point"] = round6(*c.Center)
		}
		if c.BoundingBox != nil {
			out["bounding_box"] = submit.BoundingBox{
				Southwest: round6(c.BoundingBox.Southwest),
				Northeast: round6(c.BoundingBox.Northeast),
			}
		}
	}
	if w.MapView != nil {
		out["map_zoom"] = w.MapView.Zoom
	}
	return out
}

func round6(p submit.LatLng) submit.LatLng {
	return submit.LatLng{Lat: math.Round(p.Lat*1e6) / 1e6, Lng: math.Round(p.Lng*1e6) / 1e6}
}

// ward：元数据中本服务关心的字段；其余字段原样透传
type ward struct {
	WardName     string          `json:"wardName"`
	WardNumber   any             `json:"wardNumber"`
	DistrictName string          `json:"districtName"`
	Population   *float64        `json:"population"`
	Coordinates  *coordinates    `json:"coordinates"`
	MapView      *mapView        `json:"map_view"`
	Geo          json.RawMessage `json:"ward_geojson"`
}

type coordinates struct {
	BoundingBox *submit.BoundingBox `json:"bounding_box"`
	Center      *submit.LatLng      `json:"center"`
}

type mapView struct {
	Zoom *float64 `json:"zoom"`
}

// parseWard：字段类型不符时按缺失处理
func parseWard(meta map[string]any) ward {
	var w ward
	b, err := json.Marshal(meta)
	if err != nil {
		return w
	}
	if err := json.Unmarshal(b, &w); err != nil {
		var loose struct {
			WardName     any `json:"wardName"`
			DistrictName any `json:"districtName"`
		}
		_ = json.Unmarshal(b, &loose)
		return ward{WardName: str(loose.WardName), DistrictName: str(loose.DistrictName)}
	}
	return w
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Number：选区编号（字符串或数字）
func (w ward) Number() string {
	if f, ok := w.WardNumber.(float64); ok {
		return fmt.Sprint(f)
	}
	return str(w.WardNumber)
}

// PopulationCount：人口（缺失或为 null 时返回 nil）
func (w ward) PopulationCount() *int64 {
	if w.Population == nil {
		return nil
	}
	n := int64(math.Round(*w.Population))
	return &n
}

// Geometry：ward_geojson 可以是 Feature 或裸几何
func (w ward) Geometry() orb.Geometry {
	if len(w.Geo) == 0 || string(w.Geo) == "null" {
		return nil
	}
	if f, err := geojson.UnmarshalFeature(w.Geo); err == nil && f.Geometry != nil {
		return f.Geometry
	}
	if g, err := geojson.UnmarshalGeometry(w.Geo); err == nil && g.Coordinates != nil {
		return g.Coordinates
	}
	return nil
}

// StaticMapRequest：由元数据构建静态图请求；没有中心点时返回 false
func (w ward) StaticMapRequest() (staticmap.Request, bool) {
	if w.Coordinates == nil || w.Coordinates.Center == nil {
		return staticmap.Request{}, false
	}
	c := w.Coordinates.Center
	req := staticmap.Request{Center: orb.Point{c.Lng, c.Lat}, Boundary: w.Geometry()}
	if bb := w.Coordinates.BoundingBox; bb != nil {
		req.Bound = orb.Bound{
			Min: orb.Point{bb.Southwest.Lng, bb.Southwest.Lat},
			Max: orb.Point{bb.Northeast.Lng, bb.Northeast.Lat},
		}
	}
	if w.MapView != nil {
		req.MapZoom = w.MapView.Zoom
	}
	return req, true
}
