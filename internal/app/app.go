package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trades-rl/internal/config"
	"trades-rl/internal/exchange"
	"trades-rl/internal/model"
	"trades-rl/internal/monitor"
	"trades-rl/internal/report"
	"trades-rl/internal/signal"
	"trades-rl/internal/store"
	"trades-rl/internal/upstream"
)

// App 聚合核心依赖并驱动 HTTP 服务生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 启动回测接口，阻塞直到 ctx 结束后优雅关闭。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
		zap.String("data_dir", a.cfg.Storage.DataDir),
	)

	var mon *monitor.Service
	if a.store != nil {
		svc, err := monitor.NewService(ctx, a.store, a.logger.Named("monitor"))
		if err != nil {
			return err
		}
		mon = svc
	}

	results, err := report.NewStore(a.cfg.Storage.DataDir, a.logger.Named("report"))
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(a.cfg, a.buildAggregator(), results, mon, a.modelFactory(), time.Now, a.logger.Named("orchestrator"))
	if err != nil {
		return err
	}

	e := newEcho(orch, mon, a.logger.Named("http"))
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:     e,
		ReadTimeout: a.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("回测接口已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: HTTP 服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("系统收到退出信号，正在停止")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: 关闭 HTTP 服务失败: %w", err)
	}
	return nil
}

func (a *App) buildAggregator() *signal.Aggregator {
	httpSource := signal.NewHTTPSource(a.cfg.Signals.Timeout, a.logger.Named("signals"))

	var exchangeSource signal.Source
	client, err := exchange.NewClient(a.cfg.Exchange, a.logger.Named("exchange"))
	if err != nil {
		a.logger.Warn("交易所行情源不可用，exchange 类型信号将被拒绝", zap.Error(err))
	} else {
		exchangeSource = signal.NewExchangeSource(client)
	}

	return signal.NewAggregator(httpSource, exchangeSource, a.logger.Named("aggregator"))
}

func (a *App) modelFactory() ModelFactory {
	timeout := a.cfg.Model.Timeout
	logger := a.logger.Named("model")
	return func(endpoint upstream.Endpoint) model.Model {
		return model.NewClient(endpoint, timeout, logger)
	}
}
