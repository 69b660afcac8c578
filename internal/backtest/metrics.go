package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics 记录回测绩效指标，基于每步总价值（相对初始资金）曲线。
type Metrics struct {
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	Trades      int     `json:"trades"`
}

var periodsPerYear = map[string]float64{
	"1s": 365 * 24 * 60 * 60,
	"1m": 365 * 24 * 60,
	"1h": 365 * 24,
	"1d": 365,
}

// ValueCurve 计算每步结束时的总价值，以初始资金为 1。
func ValueCurve(rows []ResultRow, starting float64, priceFeature string) []float64 {
	curve := make([]float64, 0, len(rows)+1)
	curve = append(curve, 1)
	for _, r := range rows {
		price := r.Signal.Features[priceFeature]
		curve = append(curve, (r.Step.ValueAccount+r.Step.ValueAssets*price)/starting)
	}
	return curve
}

func calculateMetrics(equity []float64, trades int, interval string) Metrics {
	if len(equity) == 0 {
		return Metrics{Trades: trades}
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(equity),
		SharpeRatio: computeSharpe(stepReturns(equity), interval),
		Trades:      trades,
	}
}

func stepReturns(equity []float64) []float64 {
	returns := make([]float64, 0, len(equity))
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	return returns
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func computeSharpe(returns []float64, interval string) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}

	factor, ok := periodsPerYear[interval]
	if !ok {
		factor = periodsPerYear["1d"]
	}
	return mean / std * math.Sqrt(factor)
}
