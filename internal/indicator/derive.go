package indicator

import (
	"fmt"
	"strings"

	talib "github.com/markcheno/go-talib"

	"trades-rl/internal/signal"
)

// Kind 为支持的派生指标类型。
type Kind string

const (
	KindRSI  Kind = "rsi"
	KindEMA  Kind = "ema"
	KindSMA  Kind = "sma"
	KindMACD Kind = "macd"
)

// Spec 描述一个派生指标列。
type Spec struct {
	Name   string
	Kind   Kind
	Period int
	Source string
}

// lookback 返回指标需要的预热行数，预热期内 talib 输出无意义。
func (s Spec) lookback() int {
	switch s.Kind {
	case KindRSI:
		return s.Period
	case KindEMA, KindSMA:
		return s.Period - 1
	case KindMACD:
		// 固定 12/26/9
		return 26 - 1 + 9 - 1
	default:
		return 0
	}
}

// Validate 校验指标参数。
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("indicator: name 不能为空")
	}
	switch s.Kind {
	case KindRSI, KindEMA, KindSMA:
		if s.Period < 2 {
			return fmt.Errorf("indicator: %s 的 period 至少为 2", s.Name)
		}
	case KindMACD:
	default:
		return fmt.Errorf("indicator: 不支持的指标类型 %q", s.Kind)
	}
	if strings.TrimSpace(s.Source) == "" {
		return fmt.Errorf("indicator: %s 的 source 不能为空", s.Name)
	}
	return nil
}

// Derive 在信号表上追加派生指标列，并丢弃处于预热期的前若干行。
func Derive(table signal.Table, specs []Spec) (signal.Table, error) {
	if len(specs) == 0 {
		return table, nil
	}

	columns := make(map[string][]float64, len(specs))
	skip := 0
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return signal.Table{}, err
		}
		if table.HasColumn(spec.Name) {
			return signal.Table{}, fmt.Errorf("indicator: 列 %q 已存在", spec.Name)
		}
		if _, dup := columns[spec.Name]; dup {
			return signal.Table{}, fmt.Errorf("indicator: 列 %q 重复定义", spec.Name)
		}

		source, err := table.Series(spec.Source)
		if err != nil {
			return signal.Table{}, err
		}

		lb := spec.lookback()
		if len(source) <= lb {
			return signal.Table{}, fmt.Errorf("indicator: %s 需要至少 %d 行数据，当前 %d", spec.Name, lb+1, len(source))
		}

		var values []float64
		switch spec.Kind {
		case KindRSI:
			values = talib.Rsi(source, spec.Period)
		case KindEMA:
			values = talib.Ema(source, spec.Period)
		case KindSMA:
			values = talib.Sma(source, spec.Period)
		case KindMACD:
			values, _, _ = talib.Macd(source, 12, 26, 9)
		}

		columns[spec.Name] = values
		if lb > skip {
			skip = lb
		}
	}

	out := signal.Table{
		Columns: append([]string(nil), table.Columns...),
		Rows:    make([]signal.Row, 0, len(table.Rows)-skip),
	}
	for _, spec := range specs {
		out.Columns = append(out.Columns, spec.Name)
	}

	for i := skip; i < len(table.Rows); i++ {
		row := table.Rows[i]
		features := make(map[string]float64, len(row.Features)+len(columns))
		for k, v := range row.Features {
			features[k] = v
		}
		for name, values := range columns {
			features[name] = values[i]
		}
		out.Rows = append(out.Rows, signal.Row{Timestamp: row.Timestamp, Features: features})
	}

	return out, nil
}
