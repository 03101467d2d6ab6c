// 包 regionstest：测试用的合成边界数据
// 背景：每个区在网格中占一个方格，清单内的选区按顺序排在方格内部的小方格中
package regionstest

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"urbaninfra/internal/population"
	"urbaninfra/internal/regions"
)

const (
	cell    = 0.1
	perRow  = 7
	originX = 77.0
	originY = 28.5
)

// Unlisted：不在任何清单中的选区，位于 South 方格内，只能靠边界包含归属
const Unlisted = "UNLISTED COLONY"

// Orphan：远离所有区的选区，父级无法解析
const Orphan = "FAR AWAY WARD"

func square(minX, minY, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {minX + size, minY}, {minX + size, minY + size}, {minX, minY + size}, {minX, minY},
	}}
}

func groupOrigin(i int) (float64, float64) {
	return originX + float64(i%4)*cell, originY + float64(i/4)*cell
}

// Collections：区集合与选区集合；选区编号从 1 开始按顺序分配
func Collections() (*geojson.FeatureCollection, *geojson.FeatureCollection) {
	m := regions.DefaultMembership()
	groups := geojson.NewFeatureCollection()
	wards := geojson.NewFeatureCollection()
	no := 0
	sub := cell / perRow
	for gi, name := range GroupNames() {
		gx, gy := groupOrigin(gi)
		gf := geojson.NewFeature(square(gx, gy, cell))
		gf.Properties["dtname"] = name
		groups.Append(gf)

		members := m.Members(name)
		if name == "South" {
			members = append(append([]string{}, members...), Unlisted)
		}
		for j, w := range members {
			no++
			x := gx + float64(j%perRow)*sub + sub*0.1
			y := gy + float64(j/perRow)*sub + sub*0.1
			wf := geojson.NewFeature(square(x, y, sub*0.8))
			wf.Properties["Ward_Name"] = w
			wf.Properties["Ward_No"] = float64(no)
			wards.Append(wf)
		}
	}
	no++
	of := geojson.NewFeature(square(80, 20, 0.01))
	of.Properties["Ward_Name"] = Orphan
	of.Properties["Ward_No"] = float64(no)
	wards.Append(of)
	return groups, wards
}

// GroupNames：区名称（清单顺序）
func GroupNames() []string {
	return []string{
		"North", "North East", "West", "East", "South West", "Central",
		"New Delhi", "South", "Shahdara", "South East", "North West",
	}
}

// Population：确定性的人口数，便于断言
func Population(name string) int64 {
	var h int64 = 7
	for _, c := range name {
		h = h*31 + int64(c)
		h %= 1_000_000
	}
	return 10_000 + h
}

// Rows：除 Unlisted 与 Orphan 外，每个清单名称一行
func Rows() []population.Row {
	m := regions.DefaultMembership()
	var rows []population.Row
	for _, g := range GroupNames() {
		for _, w := range m.Members(g) {
			rows = append(rows, population.Row{Name: w, Population: Population(w)})
		}
	}
	return rows
}

// Dataset：直接构建目录与索引（不经文件）
func Dataset() *regions.Dataset {
	g, w := Collections()
	cat := regions.NewCatalog(g, w, regions.DefaultSchema(), regions.DefaultMembership())
	pop := population.Build(Rows())
	return &regions.Dataset{Catalog: cat, Index: regions.NewIndex(cat, pop, 0), Population: pop}
}

// Loader：返回固定人口表的 PopulationLoader
func Loader() regions.PopulationLoader {
	return func(context.Context) (*population.Table, error) {
		return population.Build(Rows()), nil
	}
}

// MustWard：按名称取第一个选区，测试中找不到即 panic
func MustWard(cat *regions.Catalog, name string) *regions.Region {
	for _, s := range cat.SubRegions() {
		if s.Name == name {
			return s
		}
	}
	panic(fmt.Sprintf("ward %q not in fixture", name))
}
