package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Input：一次分析的输入
type Input struct {
	Metadata   map[string]any
	AIMetadata map[string]any
	Image      *Image
	Geometry   orb.Geometry
	Population *int64
	WardName   string
	District   string
}

// Analyzer：分析器；返回错误时 /analyze 以 500 结束
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (Report, error)
}

// 文档注释：默认分析器，只基于元数据
// 背景：面积由选区边界按球面计算（orb/geo），人口密度 = 人口 / 面积；图片只记录是否参与
type MetadataAnalyzer struct{}

func (MetadataAnalyzer) Analyze(ctx context.Context, in Input) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	var r Report
	if in.Geometry != nil {
		r.AreaKm2 = math.Round(math.Abs(geo.Area(in.Geometry))/1e6*1000) / 1000
	}
	r.Population = in.Population
	if in.Population != nil && r.AreaKm2 > 0 {
		d := math.Round(float64(*in.Population) / r.AreaKm2)
		r.DensityPerKm2 = &d
	}
	r.Summary = summarize(in, r)
	return r, nil
}

func summarize(in Input, r Report) string {
	var b strings.Builder
	name := in.WardName
	if name == "" {
		name = "Selected ward"
	}
	b.WriteString(name)
	if in.District != "" {
		fmt.Fprintf(&b, " (%s)", in.District)
	}
	if r.AreaKm2 > 0 {
		fmt.Fprintf(&b, ": %.3f km²", r.AreaKm2)
	}
	if r.DensityPerKm2 != nil {
		fmt.Fprintf(&b, ", %.0f people/km²", *r.DensityPerKm2)
	} else if r.Population == nil {
		b.WriteString(", population unknown")
	}
	if in.Image != nil {
		fmt.Fprintf(&b, "; imagery %s (%d bytes)", in.Image.MIME, len(in.Image.Data))
	}
	b.WriteString(".")
	return b.String()
}
