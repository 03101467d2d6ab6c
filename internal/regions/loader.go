package regions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"urbaninfra/internal/dataset"
	"urbaninfra/internal/logger"
)

// 文档注释：读取 GeoJSON FeatureCollection（本地路径或 http(s) 地址）
// 约束：拉取与解析失败统一包装为 DataLoadError；空集合也视为失败（启动无法继续）
func LoadFeatureCollection(ctx context.Context, client *http.Client, source string) (*geojson.FeatureCollection, error) {
	b, err := dataset.ReadAll(ctx, client, source)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, dataset.Fail(source, fmt.Errorf("parse geojson: %w", err))
	}
	if len(fc.Features) == 0 {
		return nil, dataset.Fail(source, errors.New("feature collection is empty"))
	}
	logger.L().Debug("geojson_loaded", "src", source, "features", len(fc.Features))
	return fc, nil
}

// Schema：数据集属性名配置
type Schema struct {
	GroupName     string // 区名称属性，默认 dtname
	SubRegionName string // 选区名称属性，默认 Ward_Name
	SubRegionNo   string // 选区编号属性，默认 Ward_No
}

func DefaultSchema() Schema {
	return Schema{GroupName: "dtname", SubRegionName: "Ward_Name", SubRegionNo: "Ward_No"}
}

// propString：属性值统一转字符串；数值编号（JSON number）按最短形式输出
func propString(p geojson.Properties, key string) string {
	if key == "" {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func featureID(f *geojson.Feature, prefix string, i int) string {
	if f.ID != nil {
		if s := strings.TrimSpace(fmt.Sprint(f.ID)); s != "" {
			return prefix + "-" + s
		}
	}
	return prefix + "-" + strconv.Itoa(i)
}

// decodeRegions：把集合中的面要素转换为 Region；非面几何与无名要素跳过并记录 warn
func decodeRegions(fc *geojson.FeatureCollection, kind Kind, nameKey, numberKey, idPrefix string) []*Region {
	out := make([]*Region, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			logger.L().Warn("geojson_skip_geometry", "idx", i, "type", f.Geometry.GeoJSONType())
			continue
		}
		name := propString(f.Properties, nameKey)
		if name == "" {
			logger.L().Warn("geojson_skip_unnamed", "idx", i, "kind", kind.String())
			continue
		}
		id := featureID(f, idPrefix, i)
		if seen[id] {
			id = idPrefix + "-" + strconv.Itoa(i)
		}
		seen[id] = true
		attrs := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
		}
		out = append(out, &Region{
			ID:         id,
			Name:       name,
			Number:     propString(f.Properties, numberKey),
			Kind:       kind,
			Geometry:   f.Geometry,
			Bound:      f.Geometry.Bound(),
			Attributes: attrs,
		})
	}
	return out
}
