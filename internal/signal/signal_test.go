package signal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"trades-rl/internal/exchange"
	"trades-rl/internal/upstream"
)

func TestParseRecords(t *testing.T) {
	body := []byte(`[
		{"timestamp": 3000, "price": 12.5, "volume": "7"},
		{"timestamp": 1000, "price": 10, "volume": 5},
		{"timestamp": 2000, "price": 11, "volume": 6}
	]`)

	table, err := ParseRecords(body)
	if err != nil {
		t.Fatalf("ParseRecords returned error: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.Len())
	}
	if table.Rows[0].Timestamp != 1000 || table.Rows[2].Timestamp != 3000 {
		t.Errorf("rows must be sorted by timestamp: %+v", table.Rows)
	}
	if table.Rows[2].Features["volume"] != 7 {
		t.Errorf("numeric strings must be parsed, got %v", table.Rows[2].Features)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "price" || table.Columns[1] != "volume" {
		t.Errorf("unexpected columns: %v", table.Columns)
	}
}

func TestParseRecords_Errors(t *testing.T) {
	cases := map[string]string{
		"not an array":      `{"timestamp": 1}`,
		"missing timestamp": `[{"price": 1}]`,
		"duplicate":         `[{"timestamp": 1, "price": 1}, {"timestamp": 1, "price": 2}]`,
		"non numeric":       `[{"timestamp": 1, "price": "abc"}]`,
		"ragged":            `[{"timestamp": 1, "price": 1}, {"timestamp": 2, "volume": 2}]`,
	}
	for name, body := range cases {
		if _, err := ParseRecords([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestJoin_InnerOnTimestamp(t *testing.T) {
	left := Table{Columns: []string{"price"}, Rows: []Row{
		{Timestamp: 1, Features: map[string]float64{"price": 10}},
		{Timestamp: 2, Features: map[string]float64{"price": 11}},
		{Timestamp: 3, Features: map[string]float64{"price": 12}},
	}}
	right := Table{Columns: []string{"price", "rsi"}, Rows: []Row{
		{Timestamp: 1, Features: map[string]float64{"price": 1, "rsi": 40}},
		{Timestamp: 3, Features: map[string]float64{"price": 3, "rsi": 60}},
	}}

	joined := Join(left, right, "other")
	if joined.Len() != 2 {
		t.Fatalf("expected rows missing on either side to be dropped, got %d", joined.Len())
	}
	if joined.Rows[1].Timestamp != 3 || joined.Rows[1].Features["rsi"] != 60 {
		t.Errorf("unexpected joined row: %+v", joined.Rows[1])
	}
	if joined.Rows[0].Features["price"] != 10 || joined.Rows[0].Features["price_other"] != 1 {
		t.Errorf("colliding column must be renamed: %+v", joined.Rows[0].Features)
	}
	if !joined.HasColumn("price_other") {
		t.Errorf("expected renamed column in %v", joined.Columns)
	}
}

func TestJoin_RenameNeverOverwritesExistingColumn(t *testing.T) {
	left := Table{Columns: []string{"price", "price_rsi"}, Rows: []Row{
		{Timestamp: 1, Features: map[string]float64{"price": 10, "price_rsi": 7}},
	}}
	right := Table{Columns: []string{"price", "price_rsi_2"}, Rows: []Row{
		{Timestamp: 1, Features: map[string]float64{"price": 1, "price_rsi_2": 9}},
	}}

	joined := Join(left, right, "rsi")
	if joined.Len() != 1 {
		t.Fatalf("expected one joined row, got %d", joined.Len())
	}
	got := joined.Rows[0].Features
	want := map[string]float64{"price": 10, "price_rsi": 7, "price_rsi_2": 9, "price_rsi_3": 1}
	if len(got) != len(want) {
		t.Fatalf("unexpected features %+v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("feature %s = %v, want %v (all: %+v)", k, got[k], v, got)
		}
	}
	if len(joined.Columns) != 4 || !joined.HasColumn("price_rsi_3") {
		t.Errorf("unexpected columns %v", joined.Columns)
	}
}

func TestResolvePath(t *testing.T) {
	got := ResolvePath("/price/range/{asset}/{interval}/{start_time}/{end_time}/rsi", Query{
		Asset: "BTCUSDT", Interval: "1d", StartTime: 10, EndTime: 20,
	})
	if got != "/price/range/BTCUSDT/1d/10/20/rsi" {
		t.Fatalf("unexpected path %q", got)
	}
}

func endpointFor(t *testing.T, srv *httptest.Server, slug string) upstream.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return upstream.Endpoint{Host: host, Port: port, Slug: slug}
}

func TestAggregatorFetch_HTTPSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price/BTCUSDT/1d/1/5":
			_, _ = w.Write([]byte(`[{"timestamp":1,"price":10},{"timestamp":2,"price":11},{"timestamp":3,"price":12}]`))
		case "/price/BTCUSDT/1d/1/5/volume":
			_, _ = w.Write([]byte(`[{"timestamp":2,"volume":100},{"timestamp":3,"volume":200}]`))
		default:
			http.Error(w, `{"error":"unknown"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	agg := NewAggregator(NewHTTPSource(time.Second, nil), nil, nil)
	q := Query{Asset: "BTCUSDT", Interval: "1d", StartTime: 1, EndTime: 5}
	table, err := agg.Fetch(context.Background(), q, []Spec{
		{Name: "price", Endpoint: endpointFor(t, srv, "/price/{asset}/{interval}/{start_time}/{end_time}")},
		{Name: "volume", Kind: KindHTTP, Endpoint: endpointFor(t, srv, "/price/{asset}/{interval}/{start_time}/{end_time}/volume")},
	})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if table.Len() != 2 || table.Rows[0].Timestamp != 2 {
		t.Fatalf("unexpected joined table: %+v", table.Rows)
	}
	if table.Rows[1].Features["price"] != 12 || table.Rows[1].Features["volume"] != 200 {
		t.Errorf("unexpected features: %v", table.Rows[1].Features)
	}
}

func TestAggregatorFetch_UpstreamFailureIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"range too large"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	agg := NewAggregator(NewHTTPSource(time.Second, nil), nil, nil)
	_, err := agg.Fetch(context.Background(), Query{Asset: "X"}, []Spec{{Name: "price", Endpoint: endpointFor(t, srv, "/p")}})

	var perr *upstream.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if perr.Status != http.StatusBadRequest || perr.Call != "price" || perr.Payload == "" {
		t.Errorf("unexpected protocol error: %+v", perr)
	}
}

func TestAggregatorFetch_UnknownKind(t *testing.T) {
	agg := NewAggregator(NewHTTPSource(time.Second, nil), nil, nil)
	if _, err := agg.Fetch(context.Background(), Query{}, []Spec{{Name: "price", Kind: KindExchange}}); err == nil {
		t.Fatalf("expected error when exchange source is not configured")
	}
	if _, err := agg.Fetch(context.Background(), Query{}, nil); err == nil {
		t.Fatalf("expected error for empty signal list")
	}
}

type fakeCandles struct {
	symbol string
}

func (f *fakeCandles) FetchRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]exchange.Candle, error) {
	f.symbol = symbol
	return []exchange.Candle{
		{Timestamp: time.UnixMilli(2000), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 9},
		{Timestamp: time.UnixMilli(1000), Open: 1, High: 2, Low: 0.5, Close: 1.2, Volume: 8},
	}, nil
}

func TestExchangeSource_MapsCandles(t *testing.T) {
	fetcher := &fakeCandles{}
	src := NewExchangeSource(fetcher)

	table, err := src.Fetch(context.Background(), Spec{Name: "price", Kind: KindExchange}, Query{Asset: "BTCUSDT", Interval: "1h", StartTime: 0, EndTime: 5000})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if fetcher.symbol != "BTC/USDT" {
		t.Errorf("expected normalized symbol, got %q", fetcher.symbol)
	}
	if table.Len() != 2 || table.Rows[0].Timestamp != 1000 {
		t.Fatalf("unexpected rows: %+v", table.Rows)
	}
	if table.Rows[0].Features["price"] != 1.2 || table.Rows[1].Features["price_volume"] != 9 {
		t.Errorf("unexpected features: %+v", table.Rows)
	}
}
