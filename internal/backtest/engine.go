package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trades-rl/internal/signal"
)

// Result 汇总一次回测的全部输出。
type Result struct {
	Session string
	Rows    []ResultRow
	Stats   Stats
	Metrics Metrics
}

// Engine 串联模拟器、交易统计与绩效指标。
type Engine struct {
	simulator *Simulator
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(simulator *Simulator, logger *zap.Logger) (*Engine, error) {
	if simulator == nil {
		return nil, fmt.Errorf("backtest: simulator 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{simulator: simulator, logger: logger}, nil
}

// Run 执行一次模拟并计算统计结果，session 为空时初始化新会话。
func (e *Engine) Run(ctx context.Context, table signal.Table, starting float64, interval, session string) (Result, error) {
	episode, err := e.simulator.Run(ctx, table, starting, session)
	if err != nil {
		return Result{}, err
	}

	priceFeature := e.simulator.Policy().PriceFeature
	rows := JoinSteps(table, episode.Steps)
	stats := ComputeStats(rows, starting, priceFeature)
	metrics := calculateMetrics(ValueCurve(rows, starting, priceFeature), len(stats.Transactions), interval)

	e.logger.Info("回测统计完成",
		zap.String("session", episode.Session),
		zap.Int("transactions", len(stats.Transactions)),
		zap.Float64("total_return", metrics.TotalReturn),
		zap.Float64("max_drawdown", metrics.MaxDrawdown),
	)

	return Result{
		Session: episode.Session,
		Rows:    rows,
		Stats:   stats,
		Metrics: metrics,
	}, nil
}
