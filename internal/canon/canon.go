// 包 canon：名称规范化，用于在边界数据与人口表之间做确定性连接
// 约束：只使用固定规则集判定等价，不做模糊/编辑距离匹配
package canon

import (
	"strings"
)

// Key：规范化后的连接键，仅用于数据集之间的匹配，不用于展示
type Key string

// 标点：替换为空格以保留词边界
var punctReplacer = strings.NewReplacer(
	".", " ",
	",", " ",
	"'", " ",
	"(", " ",
	")", " ",
	"-", " ",
)

// 缩写展开（按整词匹配）
var abbreviations = map[string]string{
	"EXTN":      "EXTENSION",
	"EXT":       "EXTENSION",
	"EXTENTION": "EXTENSION",
}

// 拼写变体：左侧统一为右侧。右侧不得再出现在左侧，保证幂等
var spellingVariants = map[string]string{
	"ADARASH":     "ADARSH",
	"BHALASWA":    "BHALSWA",
	"JAHAGIR":     "JAHANGIR",
	"QUAMMRUDDIN": "QAMRUDDIN",
	"VISHWASH":    "VISHWAS",
	"MANSAROWER":  "MANSAROVAR",
	"PITAMPUR":    "PITAMPURA",
	"BANGER":      "BANGAR",
	"NAGRI":       "NAGARI",
}

// 罗马数字阶段后缀
var romanPhase = map[string]string{
	"I":   "1",
	"II":  "2",
	"III": "3",
	"IV":  "4",
}

// Canonicalize：按固定顺序规范化名称
// 步骤：大写；& 替换为 AND；去标点；缩写展开（EXTN/EXT/EXTENTION、I P）；拼写变体；PHASE 罗马数字；
// 合并空白；collapseSpaces 时去掉全部空格，并对整键再查一次整词表直到不再变化
// 约束：两种模式都满足 Canonicalize(Canonicalize(x, c), c) == Canonicalize(x, c)
func Canonicalize(raw string, collapseSpaces bool) Key {
	s := strings.ToUpper(raw)
	s = strings.ReplaceAll(s, "&", " AND ")
	s = punctReplacer.Replace(s)

	in := strings.Fields(s)
	out := make([]string, 0, len(in))
	for i := 0; i < len(in); i++ {
		tok := in[i]
		if tok == "I" && i+1 < len(in) && in[i+1] == "P" {
			out = append(out, "IP")
			i++
			continue
		}
		out = append(out, word(tok))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1] != "PHASE" {
			continue
		}
		if n, ok := romanPhase[out[i]]; ok {
			out[i] = n
		}
	}

	if !collapseSpaces {
		return Key(strings.Join(out, " "))
	}
	// 去空格后 "PITAM PUR" 变成整词 PITAMPUR，需要再走一遍整词表
	k := strings.Join(out, "")
	for next := word(k); next != k; next = word(k) {
		k = next
	}
	return Key(k)
}

// word：单个整词的缩写展开与拼写统一
func word(tok string) string {
	if full, ok := abbreviations[tok]; ok {
		tok = full
	}
	if std, ok := spellingVariants[tok]; ok {
		tok = std
	}
	return tok
}

// Spaced / Collapsed：两种索引形式的便捷封装
func Spaced(raw string) Key    { return Canonicalize(raw, false) }
func Collapsed(raw string) Key { return Canonicalize(raw, true) }
