package backtest

import (
	"errors"

	"trades-rl/internal/model"
)

// ErrDegenerateState 表示账户与资产同时为零，属于不变量被破坏。
var ErrDegenerateState = errors.New("backtest: 账户与资产同时为零")

const (
	FlagSell = -1
	FlagHold = 0
	FlagBuy  = 1
)

// PortfolioState 为逐步传递的账户状态。
type PortfolioState struct {
	ValueAccount     float64
	ValueAssets      float64
	PrevValueAccount float64 // 本轮持仓开始时的账户价值，卖出时计算收益率
}

// NewPortfolio 以全部现金开始。
func NewPortfolio(starting float64) PortfolioState {
	return PortfolioState{
		ValueAccount:     starting,
		PrevValueAccount: starting,
	}
}

// Ratios 返回现金与资产各自所占比例。
func (s PortfolioState) Ratios() (inAccount, inAssets float64, err error) {
	total := s.ValueAccount + s.ValueAssets
	if total == 0 {
		return 0, 0, ErrDegenerateState
	}
	return s.ValueAccount / total, s.ValueAssets / total, nil
}

// Holding 判断当前是否持有资产。
func (s PortfolioState) Holding() bool {
	return s.ValueAssets > 0
}

// Value 按给定价格计算总价值。
func (s PortfolioState) Value(price float64) float64 {
	return s.ValueAccount + s.ValueAssets*price
}

// Apply 执行动作并返回新状态、交易方向标记以及动作本身带来的奖励（不含总价值项）。
func (s PortfolioState) Apply(action int, price float64, p Policy) (PortfolioState, int, float64) {
	if action != model.ActionExchange {
		return s, FlagHold, 0
	}

	var reward float64
	if p.BonusOnExchange {
		reward += p.ExchangeBonus
	}

	next := s
	if s.Holding() {
		next.ValueAccount = s.ValueAssets * price * (1 - p.FeeRate)
		next.ValueAssets = 0
		if s.PrevValueAccount != 0 {
			reward += (next.ValueAccount - s.PrevValueAccount) / s.PrevValueAccount
		}
		return next, FlagSell, reward
	}

	next.PrevValueAccount = s.ValueAccount
	next.ValueAssets = s.ValueAccount * (1 - p.FeeRate) / price
	next.ValueAccount = 0
	return next, FlagBuy, reward
}
