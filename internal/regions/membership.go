package regions

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"urbaninfra/internal/canon"
)

//go:embed membership.json
var defaultMembershipJSON []byte

// GroupMembers：某个区的选区名称清单（显式归属）
type GroupMembers struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

// Membership：选区名称（规范化键）到区名称（规范化键）的显式归属
// 约束：同名选区可能出现在多个区（如 RAM NAGAR），此时只作为候选，交由边界包含判定
type Membership struct {
	lists  []GroupMembers
	byName map[canon.Key][]canon.Key
}

func NewMembership(lists []GroupMembers) *Membership {
	m := &Membership{lists: lists, byName: make(map[canon.Key][]canon.Key)}
	for _, gm := range lists {
		gk := canon.Collapsed(gm.Group)
		for _, name := range gm.Members {
			k := canon.Collapsed(name)
			if !containsKey(m.byName[k], gk) {
				m.byName[k] = append(m.byName[k], gk)
			}
		}
	}
	return m
}

// DefaultMembership：内嵌的德里区-选区清单
func DefaultMembership() *Membership {
	m, err := ReadMembership(bytes.NewReader(defaultMembershipJSON))
	if err != nil {
		panic(fmt.Sprintf("embedded membership.json: %v", err))
	}
	return m
}

// ReadMembership：读取 [{group, members}] 形式的归属清单
func ReadMembership(r io.Reader) (*Membership, error) {
	var lists []GroupMembers
	if err := json.NewDecoder(r).Decode(&lists); err != nil {
		return nil, err
	}
	return NewMembership(lists), nil
}

// GroupsOf：返回名称所属的候选区键
func (m *Membership) GroupsOf(name string) []canon.Key {
	if m == nil {
		return nil
	}
	return m.byName[canon.Collapsed(name)]
}

// Members：某区清单中的原始名称（保持清单顺序）
func (m *Membership) Members(group string) []string {
	if m == nil {
		return nil
	}
	gk := canon.Collapsed(group)
	for _, gm := range m.lists {
		if canon.Collapsed(gm.Group) == gk {
			return gm.Members
		}
	}
	return nil
}

func containsKey(ks []canon.Key, k canon.Key) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}
