package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"trades-rl/internal/model"
	"trades-rl/internal/signal"
	"trades-rl/internal/upstream"
)

const (
	featureInAccount = "value_percent_in_account"
	featureInAssets  = "value_percent_in_assets"
)

// ErrReservedFeature 表示信号列与模拟器追加的账户占比特征同名。
var ErrReservedFeature = errors.New("backtest: 信号列与账户占比特征重名")

// ReservedFeatures 返回模拟器写入状态的特征名，信号表不能包含这些列。
func ReservedFeatures() []string {
	return []string{featureInAccount, featureInAssets}
}

// StepRecord 记录单步模拟结果。
type StepRecord struct {
	Timestamp    int64   `json:"timestamp"`
	Action       int     `json:"action"`
	ValueAccount float64 `json:"value_account"`
	ValueAssets  float64 `json:"value_assets"`
	Reward       float64 `json:"reward"`
	Loss         float64 `json:"loss"`
}

// Episode 为一次完整模拟的输出。
type Episode struct {
	Session string
	Steps   []StepRecord
}

// Simulator 逐行驱动模型完成 状态→动作→奖励→下一状态→学习 的循环。
type Simulator struct {
	model  model.Model
	policy Policy
	logger *zap.Logger
}

// NewSimulator 创建模拟器。
func NewSimulator(m model.Model, policy Policy, logger *zap.Logger) (*Simulator, error) {
	if m == nil {
		return nil, errors.New("backtest: model 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		model:  m,
		policy: policy.normalize(),
		logger: logger,
	}, nil
}

// Policy 返回生效的策略。
func (s *Simulator) Policy() Policy {
	return s.policy
}

// Run 在给定信号表上完成一次模拟，session 为空时向模型申请新会话。
// 每一步的 Learn 完成后才会请求下一步动作。
func (s *Simulator) Run(ctx context.Context, table signal.Table, starting float64, session string) (Episode, error) {
	if starting <= 0 {
		return Episode{}, fmt.Errorf("backtest: 初始资金必须为正，当前 %f", starting)
	}
	if table.Len() < 2 {
		return Episode{}, fmt.Errorf("backtest: 信号至少需要 2 行，当前 %d", table.Len())
	}
	if err := s.checkPrices(table); err != nil {
		return Episode{}, err
	}

	if session == "" {
		id, err := s.model.Initialize(ctx)
		if err != nil {
			return Episode{}, err
		}
		session = id
	}

	state := NewPortfolio(starting)
	steps := make([]StepRecord, 0, table.Len()-1)

	for i := 0; i < table.Len()-1; i++ {
		if err := ctx.Err(); err != nil {
			return Episode{}, err
		}

		record, next, err := s.step(ctx, session, table, i, starting, state)
		if err != nil {
			s.logger.Error("模拟步骤失败",
				zap.String("session", session),
				zap.Int("step", i),
				zap.Int64("timestamp", table.Rows[i].Timestamp),
				zap.Error(err),
			)
			return Episode{}, err
		}
		state = next
		steps = append(steps, record)
	}

	s.logger.Info("模拟完成",
		zap.String("session", session),
		zap.Int("steps", len(steps)),
		zap.Float64("final_account", state.ValueAccount),
		zap.Float64("final_assets", state.ValueAssets),
	)

	return Episode{Session: session, Steps: steps}, nil
}

func (s *Simulator) step(ctx context.Context, session string, table signal.Table, i int, starting float64, state PortfolioState) (StepRecord, PortfolioState, error) {
	row := table.Rows[i]
	price := row.Features[s.policy.PriceFeature]

	current, err := buildState(row, state)
	if err != nil {
		return StepRecord{}, state, err
	}

	action, err := s.model.Act(ctx, session, current)
	if err != nil {
		return StepRecord{}, state, err
	}
	if s.policy.ActionSpace > 0 && (action < 0 || action >= s.policy.ActionSpace) {
		return StepRecord{}, state, &upstream.ProtocolError{
			Service: "model",
			Call:    "action",
			Payload: fmt.Sprintf("动作 %d 超出动作空间 [0,%d)", action, s.policy.ActionSpace),
		}
	}

	next, flag, reward := state.Apply(action, price, s.policy)
	reward += next.Value(price) / starting
	reward *= s.policy.RewardScale

	nextState, err := buildState(table.Rows[i+1], next)
	if err != nil {
		return StepRecord{}, state, err
	}

	loss, err := s.model.Learn(ctx, session, model.Transition{
		State:     current,
		Action:    action,
		NextState: nextState,
		Reward:    reward,
	})
	if err != nil {
		return StepRecord{}, state, err
	}

	return StepRecord{
		Timestamp:    row.Timestamp,
		Action:       flag,
		ValueAccount: next.ValueAccount,
		ValueAssets:  next.ValueAssets,
		Reward:       reward,
		Loss:         loss,
	}, next, nil
}

func (s *Simulator) checkPrices(table signal.Table) error {
	for _, name := range ReservedFeatures() {
		if table.HasColumn(name) {
			return fmt.Errorf("%w: %s", ErrReservedFeature, name)
		}
	}

	prices, err := table.Series(s.policy.PriceFeature)
	if err != nil {
		return err
	}
	for i, p := range prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("backtest: 第 %d 行价格非法: %f", i, p)
		}
	}
	return nil
}

// buildState 由信号行和账户状态构造观测向量。
func buildState(row signal.Row, portfolio PortfolioState) (model.State, error) {
	inAccount, inAssets, err := portfolio.Ratios()
	if err != nil {
		return nil, err
	}
	state := make(model.State, len(row.Features)+2)
	for k, v := range row.Features {
		state[k] = v
	}
	state[featureInAccount] = inAccount
	state[featureInAssets] = inAssets
	return state, nil
}
