package exchange

import (
	"strings"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "USD", "BTC", "ETH", "BNB", "EUR"}

// NormalizeSymbol 将 BTCUSDT 形式的资产名转换为 BTC/USDT，已含分隔符时原样返回。
func NormalizeSymbol(asset string) string {
	s := strings.ToUpper(strings.TrimSpace(asset))
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}
