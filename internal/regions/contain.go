package regions

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// containsPoint：面/多面包含判定（含洞）
func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

// outerVertices：所有外环顶点（多面取每个面的外环）
func outerVertices(g orb.Geometry) []orb.Point {
	var out []orb.Point
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			out = append(out, g[0]...)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if len(poly) > 0 {
				out = append(out, poly[0]...)
			}
		}
	}
	return out
}

// 文档注释：按边界包含关系为选区挑选父级区
// 背景：包围盒预过滤 → 代表点精确判定 → 外环顶点多数票
// 约束：代表点命中恰好一个候选时直接采用；多数票要求严格过半，否则返回空（未解析），不做猜测
func containingGroup(sub *Region, candidates []*Region) *Region {
	var boxed []*Region
	for _, g := range candidates {
		if g.Bound.Intersects(sub.Bound) {
			boxed = append(boxed, g)
		}
	}
	if len(boxed) == 0 {
		return nil
	}

	center := sub.Bound.Center()
	var hits []*Region
	for _, g := range boxed {
		if g.Bound.Contains(center) && containsPoint(g.Geometry, center) {
			hits = append(hits, g)
		}
	}
	if len(hits) == 1 {
		return hits[0]
	}

	verts := outerVertices(sub.Geometry)
	if len(verts) == 0 {
		return nil
	}
	var best *Region
	bestCount := 0
	for _, g := range boxed {
		n := 0
		for _, v := range verts {
			if containsPoint(g.Geometry, v) {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = g, n
		}
	}
	if bestCount*2 > len(verts) {
		return best
	}
	return nil
}
