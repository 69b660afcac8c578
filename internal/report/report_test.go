package report

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"trades-rl/internal/backtest"
	"trades-rl/internal/model"
	"trades-rl/internal/signal"
)

func sampleRows() []backtest.ResultRow {
	return []backtest.ResultRow{
		{
			Signal: signal.Row{Timestamp: 1, Features: map[string]float64{"price": 10, "volume": 3}},
			Step:   backtest.StepRecord{Timestamp: 1, Action: 1, ValueAssets: 100, Reward: 105, Loss: 0.5},
		},
		{
			Signal: signal.Row{Timestamp: 2, Features: map[string]float64{"price": 20, "volume": 4}},
			Step:   backtest.StepRecord{Timestamp: 2, Action: -1, ValueAccount: 2000, Reward: 305, Loss: 0.25},
		},
	}
}

func sampleTransactions() []backtest.Transaction {
	return []backtest.Transaction{
		{Type: backtest.TransactionModel, BuyTime: 1, BuyPrice: 10, SellTime: 2, SellPrice: 20, Profit: 1000, Starting: 1000},
		{Type: backtest.TransactionModel, BuyTime: 3, BuyPrice: 20, SellTime: 4, SellPrice: 10, Profit: -1000, Starting: 1000},
		{Type: backtest.TransactionForcedClose, BuyTime: 5, BuyPrice: 10, SellTime: 6, SellPrice: 10, Profit: 0, Starting: 1000},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return store
}

func TestSave_SuffixesRepeatedRuns(t *testing.T) {
	store := newTestStore(t)

	want := []string{"", "_1", "_2"}
	for i, suffix := range want {
		saved, err := store.Save("abc", []string{"volume", "price"}, sampleRows(), sampleTransactions())
		if err != nil {
			t.Fatalf("Save %d returned error: %v", i, err)
		}
		if saved.Suffix != suffix {
			t.Errorf("run %d: suffix = %q, want %q", i, saved.Suffix, suffix)
		}
		if _, err := os.Stat(saved.StatesPath); err != nil {
			t.Errorf("run %d: states file missing: %v", i, err)
		}
	}
}

func TestSave_SuffixWhenOnlyOneFileExists(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.dir, "states_and_results_abc.csv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	saved, err := store.Save("abc", []string{"price"}, sampleRows(), nil)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if saved.Suffix != "_1" {
		t.Fatalf("suffix = %q, want _1", saved.Suffix)
	}
}

func TestSave_WritesStatesCSV(t *testing.T) {
	store := newTestStore(t)
	saved, err := store.Save("csv", []string{"volume", "price"}, sampleRows(), sampleTransactions())
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	f, err := os.Open(saved.StatesPath)
	if err != nil {
		t.Fatalf("open states: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	header := []string{"timestamp", "price", "volume", "action", "value_account", "value_assets", "reward", "loss"}
	for i, h := range header {
		if records[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], h)
		}
	}
	if records[2][1] != "20" || records[2][3] != "-1" || records[2][4] != "2000" {
		t.Errorf("unexpected row: %v", records[2])
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	want := sampleTransactions()

	saved, err := store.Save("rt", []string{"price"}, sampleRows(), want)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := LoadTransactions(saved.TransactionsPath)
	if err != nil {
		t.Fatalf("LoadTransactions returned error: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("count = %d, want %d", len(got), len(want))
	}
	var sumGot, sumWant float64
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transaction %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
		sumGot += got[i].Profit
		sumWant += want[i].Profit
	}
	if sumGot != sumWant {
		t.Errorf("profit sum = %f, want %f", sumGot, sumWant)
	}
}

func TestSummary_CountsAndNormalizes(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Save("sess", []string{"price"}, sampleRows(), sampleTransactions()); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	second := []backtest.Transaction{{Type: backtest.TransactionModel, Profit: 500, Starting: 1000}}
	if _, err := store.Save("sess", []string{"price"}, sampleRows(), second); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := store.Save("sess_other", []string{"price"}, sampleRows(), second); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	summaries, err := store.Summary("sess")
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 runs for sess, got %d: %+v", len(summaries), summaries)
	}

	first := summaries[0]
	if first.Run != 0 || first.NumberOfTransactions != 3 {
		t.Errorf("unexpected first run: %+v", first)
	}
	if first.NumberOfTransactionsProfit != 1 || first.NumberOfTransactionsLoss != 1 {
		t.Errorf("breakeven transactions must count toward neither bucket: %+v", first)
	}
	if first.NumberOfTransactionsProfit+first.NumberOfTransactionsLoss > first.NumberOfTransactions {
		t.Errorf("profit + loss counts exceed total: %+v", first)
	}
	if first.OverallProfit != 0 {
		t.Errorf("overall profit = %f, want 0", first.OverallProfit)
	}

	if summaries[1].Run != 1 || summaries[1].OverallProfit != 0.5 {
		t.Errorf("unexpected second run: %+v", summaries[1])
	}
}

func TestSummary_NoFilesIsEmpty(t *testing.T) {
	store := newTestStore(t)
	summaries, err := store.Summary("missing")
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected empty summary, got %+v", summaries)
	}
}

func TestSummary_MalformedFileIsError(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.dir, "transactions_bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := store.Summary("bad"); err == nil {
		t.Fatalf("expected error for malformed transaction file")
	}
}

func TestSummary_EmptyTransactionList(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Save("empty", []string{"price"}, sampleRows(), nil); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	summaries, err := store.Summary("empty")
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].NumberOfTransactions != 0 || summaries[0].OverallProfit != 0 {
		t.Fatalf("unexpected summary: %+v", summaries)
	}
}

func TestSave_ConcurrentRunsGetDistinctFiles(t *testing.T) {
	store := newTestStore(t)

	const runs = 8
	suffixes := make([]string, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			saved, err := store.Save("sess", []string{"price"}, sampleRows(), sampleTransactions())
			suffixes[i] = saved.Suffix
			errs[i] = err
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, runs)
	for i := 0; i < runs; i++ {
		if errs[i] != nil {
			t.Fatalf("Save %d returned error: %v", i, errs[i])
		}
		if seen[suffixes[i]] {
			t.Fatalf("suffix %q assigned twice: %v", suffixes[i], suffixes)
		}
		seen[suffixes[i]] = true
	}

	summaries, err := store.Summary("sess")
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if len(summaries) != runs {
		t.Fatalf("expected %d summarized runs, got %d", runs, len(summaries))
	}
	for _, s := range summaries {
		if s.NumberOfTransactions != len(sampleTransactions()) {
			t.Errorf("run %d lost transactions: %+v", s.Run, s)
		}
	}
}

func TestSave_RejectsUnsafeSession(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(filepath.Join(root, "data"), nil)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	for _, id := range []string{"../../escaped", "a/b", `a\b`, ".."} {
		if _, err := store.Save(id, []string{"price"}, sampleRows(), nil); !errors.Is(err, model.ErrInvalidSession) {
			t.Errorf("Save(%q): expected ErrInvalidSession, got %v", id, err)
		}
		if _, err := store.Summary(id); !errors.Is(err, model.ErrInvalidSession) {
			t.Errorf("Summary(%q): expected ErrInvalidSession, got %v", id, err)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("nothing may be written outside the data dir, found %d entries", len(entries))
	}
}
