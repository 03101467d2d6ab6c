package regions

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"urbaninfra/internal/canon"
	"urbaninfra/internal/logger"
)

// 文档注释：区域目录，持有全部区与选区，并在构建时解析选区的父级
// 背景：选区数据集本身不带所属区属性，需要显式清单或边界包含来确定归属
// 约束：构建后只读（人口连接阶段除外）；顺序保持数据集原始顺序
type Catalog struct {
	schema  Schema
	groups  []*Region
	subs    []*Region
	byID    map[string]*Region
	members map[string][]*Region
}

// NewCatalog：由两个边界集合构建目录；membership 为空时只按边界包含解析父级
func NewCatalog(groupsFC, subsFC *geojson.FeatureCollection, schema Schema, membership *Membership) *Catalog {
	c := &Catalog{
		schema:  schema,
		groups:  decodeRegions(groupsFC, KindGroup, schema.GroupName, "", "group"),
		subs:    decodeRegions(subsFC, KindSubRegion, schema.SubRegionName, schema.SubRegionNo, "ward"),
		byID:    make(map[string]*Region),
		members: make(map[string][]*Region),
	}
	for _, r := range c.groups {
		c.byID[r.ID] = r
	}
	for _, r := range c.subs {
		c.byID[r.ID] = r
	}
	c.resolveParents(membership)
	return c
}

func (c *Catalog) resolveParents(membership *Membership) {
	byKey := make(map[canon.Key][]*Region, len(c.groups))
	for _, g := range c.groups {
		k := canon.Collapsed(g.Name)
		byKey[k] = append(byKey[k], g)
	}
	unresolved := 0
	for _, s := range c.subs {
		var listed []*Region
		for _, gk := range membership.GroupsOf(s.Name) {
			listed = append(listed, byKey[gk]...)
		}
		var parent *Region
		switch {
		case len(listed) == 1:
			parent = listed[0]
		case len(listed) > 1:
			parent = containingGroup(s, listed)
		default:
			parent = containingGroup(s, c.groups)
		}
		if parent == nil {
			unresolved++
			logger.L().Debug("region_parent_unresolved", "id", s.ID, "name", s.Name, "listed", len(listed))
			continue
		}
		s.ParentID = parent.ID
		c.members[parent.ID] = append(c.members[parent.ID], s)
	}
	logger.L().Info("catalog_built", "groups", len(c.groups), "subregions", len(c.subs), "unresolved", unresolved)
}

func (c *Catalog) Schema() Schema { return c.schema }

// Groups：全部区（数据集顺序）
func (c *Catalog) Groups() []*Region { return c.groups }

// SubRegions：全部选区（数据集顺序）
func (c *Catalog) SubRegions() []*Region { return c.subs }

// Members：某区下的选区（数据集顺序）
func (c *Catalog) Members(groupID string) []*Region { return c.members[groupID] }

func (c *Catalog) Region(id string) (*Region, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Parent：选区的父级区；未解析时返回 false
func (c *Catalog) Parent(sub *Region) (*Region, bool) {
	if sub == nil || sub.ParentID == "" {
		return nil, false
	}
	return c.Region(sub.ParentID)
}

// GroupByName：按规范化名称找区（CLI 与测试使用）
func (c *Catalog) GroupByName(name string) (*Region, bool) {
	k := canon.Collapsed(name)
	for _, g := range c.groups {
		if canon.Collapsed(g.Name) == k {
			return g, true
		}
	}
	return nil, false
}

// 文档注释：把要素引用归一为目录中的 Region
// 背景：Live 句柄直接按 ID 查找；Raw 要素先按 ID，再按名称+编号匹配（名称可能重名，编号用于消歧）
func (c *Catalog) Resolve(ref FeatureRef) (*Region, error) {
	switch {
	case ref.live != nil:
		if r, ok := c.byID[ref.live.RegionID()]; ok {
			return r, nil
		}
		return nil, fmt.Errorf("%w: live handle %q", ErrNotFound, ref.live.RegionID())
	case ref.raw != nil:
		return c.resolveRaw(ref.raw)
	}
	return nil, ErrNoRef
}

func (c *Catalog) resolveRaw(f *geojson.Feature) (*Region, error) {
	if f.ID != nil {
		if r, ok := c.byID[fmt.Sprint(f.ID)]; ok {
			return r, nil
		}
	}
	if name := propString(f.Properties, c.schema.SubRegionName); name != "" {
		key := canon.Spaced(name)
		num := propString(f.Properties, c.schema.SubRegionNo)
		var match *Region
		for _, s := range c.subs {
			if canon.Spaced(s.Name) != key || (num != "" && s.Number != num) {
				continue
			}
			if match != nil {
				return nil, fmt.Errorf("%w: %q is ambiguous without a ward number", ErrNotFound, name)
			}
			match = s
		}
		if match != nil {
			return match, nil
		}
		return nil, fmt.Errorf("%w: sub-region %q", ErrNotFound, name)
	}
	if name := propString(f.Properties, c.schema.GroupName); name != "" {
		if g, ok := c.GroupByName(name); ok {
			return g, nil
		}
		return nil, fmt.Errorf("%w: group %q", ErrNotFound, name)
	}
	return nil, fmt.Errorf("%w: feature has no recognised name property", ErrNotFound)
}
