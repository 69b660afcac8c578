package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trades-rl/internal/backtest"
	"trades-rl/internal/config"
	"trades-rl/internal/indicator"
	"trades-rl/internal/model"
	"trades-rl/internal/monitor"
	"trades-rl/internal/report"
	"trades-rl/internal/signal"
	"trades-rl/internal/upstream"
)

// ErrSessionBusy 表示该会话已有回测在运行。
var ErrSessionBusy = errors.New("app: 会话正在运行中")

// ModelFactory 根据请求中的模型地址构建模型客户端。
type ModelFactory func(endpoint upstream.Endpoint) model.Model

// RunOutcome 为单次回测的返回内容。
type RunOutcome struct {
	ID           string                 `json:"id"`
	FileSuffix   string                 `json:"file_suffix"`
	Transactions []backtest.Transaction `json:"transactions"`
	Losses       []backtest.LossPoint   `json:"losses"`
	Metrics      backtest.Metrics       `json:"metrics"`
}

// RunResponse 为 /start 与 /continue 的返回内容。单次回测时同时平铺交易与损失。
type RunResponse struct {
	ID           string                 `json:"id"`
	RunID        string                 `json:"run_id"`
	Runs         []RunOutcome           `json:"runs"`
	Transactions []backtest.Transaction `json:"transactions,omitempty"`
	Losses       []backtest.LossPoint   `json:"losses,omitempty"`
}

// Orchestrator 串联请求校验、信号拉取、模拟、统计与落盘。
type Orchestrator struct {
	cfg       *config.Config
	signals   *signal.Aggregator
	results   *report.Store
	monitor   *monitor.Service
	newModel  ModelFactory
	validator *requestValidator
	logger    *zap.Logger

	sessionsMu sync.Mutex
	active     map[string]struct{}
}

func newOrchestrator(cfg *config.Config, signals *signal.Aggregator, results *report.Store, mon *monitor.Service, newModel ModelFactory, now func() time.Time, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if signals == nil || results == nil || newModel == nil {
		return nil, errors.New("app: 信号聚合器、结果存储与模型工厂不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		signals:   signals,
		results:   results,
		monitor:   mon,
		newModel:  newModel,
		validator: newRequestValidator(cfg.Simulation.MaxRepeat, now),
		logger:    logger,
		active:    make(map[string]struct{}),
	}, nil
}

// Start 以新的模型会话执行回测。
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (RunResponse, error) {
	if err := o.validator.check(&req); err != nil {
		return RunResponse{}, err
	}
	return o.execute(ctx, req, "")
}

// Continue 在已有会话上继续训练。
func (o *Orchestrator) Continue(ctx context.Context, req ContinueRequest) (RunResponse, error) {
	id := strings.TrimSpace(req.ID)
	verr := &ValidationError{}
	if err := o.validator.check(&req.StartRequest); err != nil && !errors.As(err, &verr) {
		return RunResponse{}, err
	}
	o.validator.checkSession(id, verr)
	if len(verr.Fields) > 0 {
		return RunResponse{}, verr
	}
	return o.execute(ctx, req.StartRequest, id)
}

// Summary 返回会话的跨回测汇总。
func (o *Orchestrator) Summary(session string) ([]report.RunSummary, error) {
	verr := &ValidationError{}
	o.validator.checkSession(session, verr)
	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return o.results.Summary(session)
}

// acquire 标记会话正在运行，同一会话同一时刻只允许一个步骤序列。
func (o *Orchestrator) acquire(session string) bool {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	if _, busy := o.active[session]; busy {
		return false
	}
	o.active[session] = struct{}{}
	return true
}

func (o *Orchestrator) release(session string) {
	o.sessionsMu.Lock()
	delete(o.active, session)
	o.sessionsMu.Unlock()
}

func (o *Orchestrator) execute(ctx context.Context, req StartRequest, session string) (RunResponse, error) {
	runID := uuid.NewString()
	policy := policyFrom(o.cfg, req.Policy)
	logger := o.logger.With(zap.String("run_id", runID), zap.String("asset", req.Asset), zap.String("interval", req.Interval))

	held := make([]string, 0, 1)
	defer func() {
		for _, s := range held {
			o.release(s)
		}
	}()
	if session != "" {
		if !o.acquire(session) {
			return RunResponse{}, fmt.Errorf("%w: %s", ErrSessionBusy, session)
		}
		held = append(held, session)
	}

	table, err := o.prepareTable(ctx, req, policy.PriceFeature)
	if err != nil {
		o.recordFailed(ctx, runID, session, "准备信号失败", err)
		return RunResponse{}, err
	}

	if o.monitor != nil {
		o.monitor.RecordRunStarted(ctx, runID, session, monitor.RunStartedPayload{
			Asset:     req.Asset,
			Interval:  req.Interval,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Starting:  req.StartingValue,
			Repeat:    req.Repeat,
			Signals:   len(req.Signals),
			Rows:      table.Len(),
		})
	}

	simulator, err := backtest.NewSimulator(o.newModel(req.ModelURL), policy, logger)
	if err != nil {
		return RunResponse{}, err
	}
	engine, err := backtest.NewEngine(simulator, logger)
	if err != nil {
		return RunResponse{}, err
	}

	resp := RunResponse{ID: session, RunID: runID, Runs: make([]RunOutcome, 0, req.Repeat)}
	for run := 0; run < req.Repeat; run++ {
		runSession := resp.ID
		if run > 0 && !policy.SessionReuse {
			runSession = ""
		}

		result, err := engine.Run(ctx, table, req.StartingValue, req.Interval, runSession)
		if err != nil {
			o.recordFailed(ctx, runID, runSession, fmt.Sprintf("第 %d 次回测失败", run+1), err)
			return RunResponse{}, err
		}
		if runSession == "" {
			// 新会话在 init 之后才有标识，后续重复回测期间同样独占
			if !o.acquire(result.Session) {
				err := fmt.Errorf("%w: %s", ErrSessionBusy, result.Session)
				o.recordFailed(ctx, runID, result.Session, "会话被占用", err)
				return RunResponse{}, err
			}
			held = append(held, result.Session)
		}
		if resp.ID == "" {
			resp.ID = result.Session
		}

		saved, err := o.results.Save(result.Session, table.Columns, result.Rows, result.Stats.Transactions)
		if err != nil {
			o.recordFailed(ctx, runID, result.Session, "保存回测结果失败", err)
			return RunResponse{}, err
		}

		if o.monitor != nil {
			o.monitor.RecordRunCompleted(ctx, runID, result.Session, monitor.RunCompletedPayload{
				Run:          run,
				FileSuffix:   saved.Suffix,
				Steps:        len(result.Rows),
				Transactions: len(result.Stats.Transactions),
				Metrics:      result.Metrics,
			})
		}

		resp.Runs = append(resp.Runs, RunOutcome{
			ID:           result.Session,
			FileSuffix:   saved.Suffix,
			Transactions: result.Stats.Transactions,
			Losses:       result.Stats.Losses,
			Metrics:      result.Metrics,
		})
	}

	if len(resp.Runs) == 1 {
		resp.Transactions = resp.Runs[0].Transactions
		resp.Losses = resp.Runs[0].Losses
	}

	logger.Info("回测请求完成", zap.String("session", resp.ID), zap.Int("runs", len(resp.Runs)))
	return resp, nil
}

// prepareTable 拉取并拼接信号，追加派生指标并确认价格列存在。
func (o *Orchestrator) prepareTable(ctx context.Context, req StartRequest, priceFeature string) (signal.Table, error) {
	table, err := o.signals.Fetch(ctx, req.query(), req.signalSpecs())
	if err != nil {
		return signal.Table{}, err
	}

	table, err = indicator.Derive(table, req.indicatorSpecs())
	if err != nil {
		verr := &ValidationError{}
		verr.add("ERR_INDICATOR", "indicators", err.Error())
		return signal.Table{}, verr
	}

	for _, name := range backtest.ReservedFeatures() {
		if table.HasColumn(name) {
			verr := &ValidationError{}
			verr.add("ERR_RESERVED", "signals", fmt.Sprintf("信号列 %q 与账户占比特征重名", name))
			return signal.Table{}, verr
		}
	}

	if !table.HasColumn(priceFeature) {
		verr := &ValidationError{}
		verr.add("ERR_PRICE", "signals", fmt.Sprintf("信号中缺少价格列 %q", priceFeature))
		return signal.Table{}, verr
	}
	if table.Len() < 2 {
		verr := &ValidationError{}
		verr.add("ERR_ROWS", "signals", fmt.Sprintf("拼接后的信号至少需要 2 行，当前 %d", table.Len()))
		return signal.Table{}, verr
	}

	return table, nil
}

func (o *Orchestrator) recordFailed(ctx context.Context, runID, session, msg string, err error) {
	o.logger.Error(msg, zap.String("run_id", runID), zap.String("session", session), zap.Error(err))
	if o.monitor != nil {
		o.monitor.RecordRunFailed(context.WithoutCancel(ctx), runID, session, msg, err)
	}
}
