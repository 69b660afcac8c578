package signal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-rl/internal/exchange"
	"trades-rl/internal/upstream"
)

// Kind 表示信号来源类型。
type Kind string

const (
	// KindHTTP 通过信号服务的 HTTP 接口拉取。
	KindHTTP Kind = "http"
	// KindExchange 直接从交易所拉取K线。
	KindExchange Kind = "exchange"
)

// Spec 描述单个请求的信号。
type Spec struct {
	Name     string
	Kind     Kind
	Endpoint upstream.Endpoint
}

// Source 按查询拉取一张信号表。
type Source interface {
	Fetch(ctx context.Context, spec Spec, q Query) (Table, error)
}

// HTTPSource 从信号服务拉取 JSON 记录。
type HTTPSource struct {
	caller *upstream.Caller
}

// NewHTTPSource 创建 HTTP 信号源。
func NewHTTPSource(timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{caller: upstream.NewCaller("signal", timeout, logger)}
}

// Fetch 解析模板路径后拉取并解析信号。
func (s *HTTPSource) Fetch(ctx context.Context, spec Spec, q Query) (Table, error) {
	endpoint := spec.Endpoint
	endpoint.Slug = ResolvePath(endpoint.Slug, q)

	body, err := s.caller.Get(ctx, spec.Name, endpoint.URL(""))
	if err != nil {
		return Table{}, err
	}

	table, err := ParseRecords(body)
	if err != nil {
		return Table{}, &upstream.ProtocolError{Service: "signal", Call: spec.Name, Err: err}
	}
	return table, nil
}

// CandleFetcher 按时间范围提供K线。
type CandleFetcher interface {
	FetchRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]exchange.Candle, error)
}

// ExchangeSource 将交易所K线转换为信号表：收盘价列以信号名命名，其余列为 <信号名>_open 等。
type ExchangeSource struct {
	fetcher CandleFetcher
}

// NewExchangeSource 创建交易所信号源。
func NewExchangeSource(fetcher CandleFetcher) *ExchangeSource {
	return &ExchangeSource{fetcher: fetcher}
}

// Fetch 拉取 [StartTime, EndTime] 区间的K线。
func (s *ExchangeSource) Fetch(ctx context.Context, spec Spec, q Query) (Table, error) {
	if s.fetcher == nil {
		return Table{}, fmt.Errorf("signal: 未配置交易所行情源")
	}

	symbol := exchange.NormalizeSymbol(q.Asset)
	candles, err := s.fetcher.FetchRange(ctx, symbol, q.Interval, time.UnixMilli(q.StartTime), time.UnixMilli(q.EndTime))
	if err != nil {
		return Table{}, &upstream.ProtocolError{Service: "exchange", Call: spec.Name, Err: err}
	}

	name := spec.Name
	columns := []string{name, name + "_open", name + "_high", name + "_low", name + "_volume"}
	rows := make([]Row, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, Row{
			Timestamp: c.Timestamp.UnixMilli(),
			Features: map[string]float64{
				name:             c.Close,
				name + "_open":   c.Open,
				name + "_high":   c.High,
				name + "_low":    c.Low,
				name + "_volume": c.Volume,
			},
		})
	}

	return normalize(Table{Columns: columns, Rows: rows})
}
