package exchange

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trades-rl/internal/config"
)

type pagedOHLCV struct {
	mu      sync.Mutex
	candles []ccxt.OHLCV
	failFor int
	calls   int
}

func (p *pagedOHLCV) FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failFor > 0 {
		p.failFor--
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}

	opts := ccxt.FetchOHLCVOptionsStruct{}
	for _, opt := range options {
		opt(&opts)
	}

	var since int64
	if opts.Since != nil {
		since = *opts.Since
	}
	limit := int64(len(p.candles))
	if opts.Limit != nil {
		limit = *opts.Limit
	}

	out := make([]ccxt.OHLCV, 0, limit)
	for _, c := range p.candles {
		if c.Timestamp >= since && int64(len(out)) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func testConfig(pageLimit int64) config.ExchangeConfig {
	return config.ExchangeConfig{
		Name:      "binance",
		PageLimit: pageLimit,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func hourlyCandles(n int) []ccxt.OHLCV {
	out := make([]ccxt.OHLCV, n)
	for i := range out {
		out[i] = ccxt.OHLCV{
			Timestamp: int64(i) * time.Hour.Milliseconds(),
			Open:      float64(i),
			High:      float64(i) + 1,
			Low:       float64(i) - 1,
			Close:     float64(i) + 0.5,
			Volume:    10,
		}
	}
	return out
}

func TestFetchRange_PagesUntilEnd(t *testing.T) {
	api := &pagedOHLCV{candles: hourlyCandles(10)}
	client := newClient(testConfig(3), api, nil, nil)

	start := time.UnixMilli(0)
	end := time.UnixMilli(7 * time.Hour.Milliseconds())
	candles, err := client.FetchRange(context.Background(), "BTC/USDT", "1h", start, end)
	if err != nil {
		t.Fatalf("FetchRange returned error: %v", err)
	}
	if len(candles) != 8 {
		t.Fatalf("expected 8 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			t.Fatalf("candles not ascending at %d", i)
		}
	}
	if candles[7].Close != 7.5 {
		t.Errorf("unexpected last close: %f", candles[7].Close)
	}
}

func TestFetchRange_RetriesNetworkErrors(t *testing.T) {
	api := &pagedOHLCV{candles: hourlyCandles(2), failFor: 2}
	client := newClient(testConfig(100), api, nil, nil)

	candles, err := client.FetchRange(context.Background(), "BTC/USDT", "1h", time.UnixMilli(0), time.UnixMilli(time.Hour.Milliseconds()))
	if err != nil {
		t.Fatalf("FetchRange returned error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if api.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + success), got %d", api.calls)
	}
}

func TestFetchRange_GivesUpAfterMaxAttempts(t *testing.T) {
	api := &pagedOHLCV{candles: hourlyCandles(2), failFor: 10}
	client := newClient(testConfig(100), api, nil, nil)

	_, err := client.FetchRange(context.Background(), "BTC/USDT", "1h", time.UnixMilli(0), time.UnixMilli(time.Hour.Milliseconds()))
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if api.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", api.calls)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC/USDT",
		"ethbtc":   "ETH/BTC",
		"SOL/USDC": "SOL/USDC",
		"XYZ":      "XYZ",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchRange_ConcurrentCallersLoadMarketsOnce(t *testing.T) {
	var loads atomic.Int32
	load := func() error {
		if loads.Add(1) == 1 {
			return errors.New("markets unavailable")
		}
		return nil
	}
	api := &pagedOHLCV{candles: hourlyCandles(4)}
	client := newClient(testConfig(10), api, load, nil)

	start := time.UnixMilli(0)
	end := time.UnixMilli(3 * time.Hour.Milliseconds())
	if _, err := client.FetchRange(context.Background(), "BTC/USDT", "1h", start, end); err == nil {
		t.Fatalf("expected the failed market load to surface")
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = client.FetchRange(context.Background(), "BTC/USDT", "1h", start, end)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d returned error: %v", i, err)
		}
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("expected one failed and one successful load, got %d", got)
	}
}
