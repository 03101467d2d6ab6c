package population

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"urbaninfra/internal/canon"
	"urbaninfra/internal/dataset"
	"urbaninfra/internal/logger"
)

var (
	ErrMissingColumn   = errors.New("population: required column not found")
	ErrAmbiguousColumn = errors.New("population: ambiguous column")
)

// 表头别名（规范化去空格后比较）
var (
	nameAliases = []canon.Key{"WARDNAME", "WARD", "NAME", "REGIONNAME", "REGION", "AREANAME"}
	popAliases  = []canon.Key{"POPULATION", "TOTALPOPULATION", "TOTPOP", "POP", "POPULATIONCOUNT"}
)

func headerKey(h string) canon.Key {
	h = strings.TrimPrefix(h, "\ufeff")
	return canon.Collapsed(strings.ReplaceAll(h, "_", " "))
}

// resolveColumn：先按别名精确匹配，再按包含关键字匹配；零个候选为缺失，多个候选为歧义
// 约束：不回退到固定列号，避免在异常表头下静默读错列
func resolveColumn(header []canon.Key, aliases []canon.Key, contains string, what string) (int, error) {
	var exact []int
	for i, h := range header {
		for _, a := range aliases {
			if h == a {
				exact = append(exact, i)
				break
			}
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return -1, fmt.Errorf("%w: %s matches columns %v", ErrAmbiguousColumn, what, exact)
	}
	var loose []int
	for i, h := range header {
		if strings.Contains(string(h), contains) {
			loose = append(loose, i)
		}
	}
	switch len(loose) {
	case 0:
		return -1, fmt.Errorf("%w: %s", ErrMissingColumn, what)
	case 1:
		return loose[0], nil
	}
	return -1, fmt.Errorf("%w: %s matches columns %v", ErrAmbiguousColumn, what, loose)
}

// ParseCount：解析人口数，允许千分位（"1,23,456"）与首尾空白
func ParseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, errors.New("empty")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return n, nil
}

// 文档注释：读取表头驱动的人口 CSV
// 背景：名称列与人口列按表头定位，容忍非预期的表头写法
// 约束：表头缺失或歧义直接返回错误；数值非法的行跳过并记录 warn，不影响整表
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, err
	}
	keys := make([]canon.Key, len(head))
	for i, h := range head {
		keys[i] = headerKey(h)
	}
	nameCol, err := resolveColumn(keys, nameAliases, "NAME", "name")
	if err != nil {
		return nil, err
	}
	popCol, err := resolveColumn(keys, popAliases, "POP", "population")
	if err != nil {
		return nil, err
	}
	if nameCol == popCol {
		return nil, fmt.Errorf("%w: name and population resolve to column %d", ErrAmbiguousColumn, nameCol)
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			logger.L().Warn("population_row_skip", "line", line, "err", err)
			continue
		}
		if nameCol >= len(rec) || popCol >= len(rec) {
			logger.L().Warn("population_row_skip", "line", line, "err", "short row")
			continue
		}
		name := strings.TrimSpace(rec[nameCol])
		n, err := ParseCount(rec[popCol])
		if name == "" || err != nil {
			logger.L().Warn("population_row_skip", "line", line, "value", rec[popCol])
			continue
		}
		rows = append(rows, Row{Name: name, Population: n})
	}
	return rows, nil
}

// LoadCSV：从文件或 URL 读取 CSV 并构建连接表；所有失败包装为 DataLoadError
func LoadCSV(ctx context.Context, client *http.Client, source string) (*Table, error) {
	rc, err := dataset.Open(ctx, client, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	rows, err := ReadCSV(rc)
	if err != nil {
		return nil, dataset.Fail(source, err)
	}
	t := Build(rows)
	logger.L().Info("population_loaded", "src", source, "rows", t.Len())
	return t, nil
}
