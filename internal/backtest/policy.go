package backtest

// Policy 定义奖励塑形与手续费策略。
type Policy struct {
	BonusOnExchange bool    // 执行交换动作时是否给予鼓励奖励
	ExchangeBonus   float64 // 交换鼓励奖励
	FeeRate         float64 // 每次交换按比例扣除的手续费
	RewardScale     float64 // 发送给模型前的奖励缩放系数
	SessionReuse    bool    // 重复回测是否沿用同一模型会话
	PriceFeature    string  // 价格所在的特征列
	ActionSpace     int     // 动作空间大小，0 表示不校验
}

// DefaultPolicy 返回默认策略：鼓励交换、无手续费、奖励放大100倍。
func DefaultPolicy() Policy {
	return Policy{
		BonusOnExchange: true,
		ExchangeBonus:   0.05,
		RewardScale:     100,
		SessionReuse:    true,
		PriceFeature:    "price",
	}
}

func (p Policy) normalize() Policy {
	cfg := p
	if cfg.RewardScale <= 0 {
		cfg.RewardScale = 100
	}
	if cfg.PriceFeature == "" {
		cfg.PriceFeature = "price"
	}
	if cfg.FeeRate < 0 {
		cfg.FeeRate = 0
	}
	return cfg
}
