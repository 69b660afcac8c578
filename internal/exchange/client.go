package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trades-rl/internal/config"
)

type ohlcvAPI interface {
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// Client 负责从交易所分页拉取历史K线并实现重试机制。
type Client struct {
	cfg    config.ExchangeConfig
	logger *zap.Logger
	api    ohlcvAPI
	load   func() error

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 根据配置构造 ccxt 行情客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	var (
		api  ohlcvAPI
		load func() error
	)
	switch strings.ToLower(cfg.Name) {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
		load = func() error {
			_, err := ex.LoadMarkets()
			return err
		}
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
		load = func() error {
			_, err := ex.LoadMarkets()
			return err
		}
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	return newClient(cfg, api, load, logger), nil
}

func newClient(cfg config.ExchangeConfig, api ohlcvAPI, load func() error, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		api:    api,
		load:   load,
	}
}

// FetchRange 分页拉取 [start, end] 区间内的K线，按时间升序返回。
func (c *Client) FetchRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("exchange: 结束时间必须晚于开始时间")
	}

	since := start.UnixMilli()
	until := end.UnixMilli()
	candles := make([]Candle, 0)

	for since <= until {
		var raw []ccxt.OHLCV
		err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
			if err := c.ensureMarketsLoaded(ctx); err != nil {
				return err
			}

			result, err := c.api.FetchOHLCV(
				symbol,
				ccxt.WithFetchOHLCVTimeframe(timeframe),
				ccxt.WithFetchOHLCVSince(since),
				ccxt.WithFetchOHLCVLimit(c.cfg.PageLimit),
			)
			if err != nil {
				return err
			}

			raw = result
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			break
		}

		last := since
		for _, item := range raw {
			if item.Timestamp < since || item.Timestamp > until {
				continue
			}
			candles = append(candles, Candle{
				Timestamp: time.UnixMilli(item.Timestamp).UTC(),
				Open:      item.Open,
				High:      item.High,
				Low:       item.Low,
				Close:     item.Close,
				Volume:    item.Volume,
			})
			if item.Timestamp > last {
				last = item.Timestamp
			}
		}

		if int64(len(raw)) < c.cfg.PageLimit || last <= since {
			break
		}
		since = last + 1
	}

	c.logger.Debug("K线区间拉取完成",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Int("count", len(candles)),
	)

	return candles, nil
}

// ensureMarketsLoaded 只加载一次市场元数据，失败时下次调用重试。
// 多个 exchange 信号会并发调用，标志位只在锁内读写。
func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.load == nil {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if err := c.load(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classify(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
