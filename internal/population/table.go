// 包 population：人口连接表，按规范化名称键回答“某区域人口是多少”
package population

import (
	"urbaninfra/internal/canon"
)

// Row：人口表的一行（原始名称 + 人口数）
type Row struct {
	Name       string
	Population int64
}

// 文档注释：人口连接表
// 背景：边界数据与人口表来源独立，空格写法不一致（如 "VASANT KUNJ" / "VASANTKUNJ"）
// 约束：每行同时写入带空格键与去空格键；重名时后写覆盖；构建后只读
type Table struct {
	spaced    map[canon.Key]int64
	collapsed map[canon.Key]int64
	rows      int
}

func NewTable() *Table {
	return &Table{
		spaced:    make(map[canon.Key]int64),
		collapsed: make(map[canon.Key]int64),
	}
}

// Build：由行集合构建连接表
func Build(rows []Row) *Table {
	t := NewTable()
	for _, r := range rows {
		t.Add(r.Name, r.Population)
	}
	return t
}

// Add：写入一行；空名称忽略
func (t *Table) Add(name string, pop int64) {
	sk := canon.Spaced(name)
	if sk == "" {
		return
	}
	t.spaced[sk] = pop
	t.collapsed[canon.Collapsed(name)] = pop
	t.rows++
}

// Get：先查带空格键，再查去空格键；未命中返回 false，从不报错
func (t *Table) Get(name string) (int64, bool) {
	if t == nil {
		return 0, false
	}
	if v, ok := t.spaced[canon.Spaced(name)]; ok {
		return v, true
	}
	v, ok := t.collapsed[canon.Collapsed(name)]
	return v, ok
}

// Lookup：Get 的指针形式，未命中为 nil（与 Region.Population 对齐）
func (t *Table) Lookup(name string) *int64 {
	v, ok := t.Get(name)
	if !ok {
		return nil
	}
	return &v
}

// Len：成功写入的行数（含重名覆盖）
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.rows
}
