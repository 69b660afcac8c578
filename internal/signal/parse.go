package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseRecords 将 JSON 数组形式的记录解析为信号表。
func ParseRecords(data []byte) (Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var records []map[string]interface{}
	if err := dec.Decode(&records); err != nil {
		return Table{}, fmt.Errorf("signal: 解析记录失败: %w", err)
	}
	if len(records) == 0 {
		return Table{}, nil
	}

	var columns []string
	for key := range records[0] {
		if key != TimestampColumn {
			columns = append(columns, key)
		}
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		rawTS, ok := rec[TimestampColumn]
		if !ok {
			return Table{}, fmt.Errorf("signal: 第 %d 条记录缺少 timestamp", i)
		}
		ts, ok := parseNumeric(rawTS)
		if !ok || ts != math.Trunc(ts) {
			return Table{}, fmt.Errorf("signal: 第 %d 条记录 timestamp 非法: %v", i, rawTS)
		}
		if len(rec)-1 != len(columns) {
			return Table{}, fmt.Errorf("signal: 第 %d 条记录特征数量不一致", i)
		}

		features := make(map[string]float64, len(columns))
		for _, c := range columns {
			raw, present := rec[c]
			if !present {
				return Table{}, fmt.Errorf("signal: 第 %d 条记录缺少特征 %q", i, c)
			}
			v, ok := parseNumeric(raw)
			if !ok {
				return Table{}, fmt.Errorf("signal: 第 %d 条记录特征 %q 不是数值: %v", i, c, raw)
			}
			features[c] = v
		}
		rows = append(rows, Row{Timestamp: int64(ts), Features: features})
	}

	return normalize(Table{Columns: columns, Rows: rows})
}

func parseNumeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
