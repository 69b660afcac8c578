package backtest

import "trades-rl/internal/signal"

const (
	TransactionModel       = "model"
	TransactionForcedClose = "automatic closing of open positions at the end of test"
)

// Transaction 为一次完整的买入-卖出（或期末强制平仓）。
type Transaction struct {
	Type      string  `json:"type"`
	BuyTime   int64   `json:"buy_time"`
	BuyPrice  float64 `json:"buy_price"`
	SellTime  int64   `json:"sell_time"`
	SellPrice float64 `json:"sell_price"`
	Profit    float64 `json:"profit"`
	Starting  float64 `json:"starting"`
}

// LossPoint 记录某一步的学习损失。
type LossPoint struct {
	Timestamp int64   `json:"timestamp"`
	Loss      float64 `json:"loss"`
}

// ResultRow 为信号行与模拟步骤按时间戳拼接后的结果。
type ResultRow struct {
	Signal signal.Row
	Step   StepRecord
}

// JoinSteps 按时间戳内连接信号表与模拟步骤，保持信号顺序。
func JoinSteps(table signal.Table, steps []StepRecord) []ResultRow {
	index := make(map[int64]int, len(steps))
	for i, st := range steps {
		index[st.Timestamp] = i
	}
	rows := make([]ResultRow, 0, len(steps))
	for _, row := range table.Rows {
		i, ok := index[row.Timestamp]
		if !ok {
			continue
		}
		rows = append(rows, ResultRow{Signal: row, Step: steps[i]})
	}
	return rows
}

// Stats 汇总交易记录与损失序列。
type Stats struct {
	Transactions []Transaction `json:"transactions"`
	Losses       []LossPoint   `json:"losses"`
}

// ComputeStats 从动作轨迹重建交易。每笔收益为相邻两次平仓后账户价值之差，
// 以初始资金为起点；期末仍持仓时按最后一行价格强制平仓。
func ComputeStats(rows []ResultRow, starting float64, priceFeature string) Stats {
	stats := Stats{
		Transactions: make([]Transaction, 0),
		Losses:       make([]LossPoint, 0, len(rows)),
	}

	var (
		open     Transaction
		isOpen   bool
		baseline = starting
	)

	for _, r := range rows {
		price := r.Signal.Features[priceFeature]
		switch r.Step.Action {
		case FlagBuy:
			open.BuyTime = r.Signal.Timestamp
			open.BuyPrice = price
			isOpen = true
		case FlagSell:
			open.Type = TransactionModel
			open.SellTime = r.Signal.Timestamp
			open.SellPrice = price
			open.Profit = r.Step.ValueAccount - baseline
			open.Starting = starting
			baseline = r.Step.ValueAccount
			stats.Transactions = append(stats.Transactions, open)
			open = Transaction{}
			isOpen = false
		}
		stats.Losses = append(stats.Losses, LossPoint{Timestamp: r.Signal.Timestamp, Loss: r.Step.Loss})
	}

	if isOpen && len(rows) > 0 {
		last := rows[len(rows)-1]
		open.Type = TransactionForcedClose
		open.SellTime = last.Signal.Timestamp
		open.SellPrice = last.Signal.Features[priceFeature]
		open.Profit = last.Step.ValueAssets*open.SellPrice - baseline
		open.Starting = starting
		stats.Transactions = append(stats.Transactions, open)
	}

	return stats
}
