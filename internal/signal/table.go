package signal

import (
	"fmt"
	"sort"
)

// TimestampColumn 为信号表的对齐键。
const TimestampColumn = "timestamp"

// Row 表示某一时间点的一组数值特征。
type Row struct {
	Timestamp int64
	Features  map[string]float64
}

// Table 为按时间戳严格递增排列的信号表，所有行拥有相同的特征集合。
type Table struct {
	Columns []string
	Rows    []Row
}

// Len 返回行数。
func (t Table) Len() int {
	return len(t.Rows)
}

// HasColumn 判断表中是否包含指定特征。
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Series 按行顺序返回某一特征的取值。
func (t Table) Series(name string) ([]float64, error) {
	if !t.HasColumn(name) {
		return nil, fmt.Errorf("signal: 特征 %q 不存在", name)
	}
	values := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row.Features[name]
	}
	return values, nil
}

// Last 返回最后一行，表为空时 ok=false。
func (t Table) Last() (Row, bool) {
	if len(t.Rows) == 0 {
		return Row{}, false
	}
	return t.Rows[len(t.Rows)-1], true
}

// Join 以时间戳精确相等做内连接，保持左表顺序。右表中与左表重名的特征改名为 <特征>_<suffix>，
// 该名字仍被占用时继续追加 _2、_3…，保证不会覆盖任何已有列。
func Join(left, right Table, suffix string) Table {
	taken := make(map[string]struct{}, len(left.Columns)+len(right.Columns))
	for _, c := range left.Columns {
		taken[c] = struct{}{}
	}
	for _, c := range right.Columns {
		if !left.HasColumn(c) {
			taken[c] = struct{}{}
		}
	}

	rename := make(map[string]string, len(right.Columns))
	columns := append([]string(nil), left.Columns...)
	for _, c := range right.Columns {
		name := c
		if left.HasColumn(c) {
			base := fmt.Sprintf("%s_%s", c, suffix)
			name = base
			for n := 2; ; n++ {
				if _, used := taken[name]; !used {
					break
				}
				name = fmt.Sprintf("%s_%d", base, n)
			}
			taken[name] = struct{}{}
		}
		rename[c] = name
		columns = append(columns, name)
	}

	index := make(map[int64]int, len(right.Rows))
	for i, row := range right.Rows {
		index[row.Timestamp] = i
	}

	rows := make([]Row, 0, len(left.Rows))
	for _, l := range left.Rows {
		ri, ok := index[l.Timestamp]
		if !ok {
			continue
		}
		features := make(map[string]float64, len(columns))
		for k, v := range l.Features {
			features[k] = v
		}
		for k, v := range right.Rows[ri].Features {
			features[rename[k]] = v
		}
		rows = append(rows, Row{Timestamp: l.Timestamp, Features: features})
	}

	return Table{Columns: columns, Rows: rows}
}

// normalize 按时间排序并拒绝重复时间戳。
func normalize(t Table) (Table, error) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Timestamp < t.Rows[j].Timestamp
	})
	for i := 1; i < len(t.Rows); i++ {
		if t.Rows[i].Timestamp == t.Rows[i-1].Timestamp {
			return Table{}, fmt.Errorf("signal: 时间戳 %d 重复", t.Rows[i].Timestamp)
		}
	}
	sort.Strings(t.Columns)
	return t, nil
}
