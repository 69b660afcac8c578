package signal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator 并发拉取多个信号并按时间戳拼接成一张表。
type Aggregator struct {
	sources map[Kind]Source
	logger  *zap.Logger
}

// NewAggregator 创建信号聚合器，exchange 可以为空。
func NewAggregator(http Source, exchange Source, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	sources := map[Kind]Source{KindHTTP: http}
	if exchange != nil {
		sources[KindExchange] = exchange
	}
	return &Aggregator{sources: sources, logger: logger}
}

// Fetch 拉取全部信号并按请求顺序做内连接，任一信号缺失的时间点会被丢弃。
func (a *Aggregator) Fetch(ctx context.Context, q Query, specs []Spec) (Table, error) {
	if len(specs) == 0 {
		return Table{}, errors.New("signal: 信号列表不能为空")
	}

	sources := make([]Source, len(specs))
	for i, spec := range specs {
		kind := spec.Kind
		if kind == "" {
			kind = KindHTTP
		}
		src, ok := a.sources[kind]
		if !ok || src == nil {
			return Table{}, fmt.Errorf("signal: 不支持的信号来源 %q (%s)", kind, spec.Name)
		}
		sources[i] = src
	}

	tables := make([]Table, len(specs))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		group.Go(func() error {
			table, err := sources[i].Fetch(groupCtx, spec, q)
			if err != nil {
				return err
			}
			tables[i] = table
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Table{}, err
	}

	joined := tables[0]
	for i := 1; i < len(tables); i++ {
		joined = Join(joined, tables[i], specs[i].Name)
	}

	a.logger.Info("信号拼接完成",
		zap.String("asset", q.Asset),
		zap.String("interval", q.Interval),
		zap.Int("signals", len(specs)),
		zap.Int("rows", joined.Len()),
		zap.Strings("columns", joined.Columns),
	)

	return joined, nil
}
