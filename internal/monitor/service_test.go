package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"trades-rl/internal/backtest"
	"trades-rl/internal/config"
	"trades-rl/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordsRunLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordRunStarted(ctx, "run-1", "sess", RunStartedPayload{Asset: "BTCUSDT", Repeat: 2})
	svc.RecordRunCompleted(ctx, "run-1", "sess", RunCompletedPayload{Run: 0, Transactions: 3, Metrics: backtest.Metrics{TotalReturn: 0.1}})
	svc.RecordRunFailed(ctx, "run-2", "other", "模型调用失败", errors.New("boom"))

	all, err := svc.ListEvents(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Type != EventRunFailed {
		t.Errorf("expected newest event first, got %s", all[0].Type)
	}

	completed, err := svc.ListEvents(ctx, EventRunCompleted, "sess", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(completed) != 1 || completed[0].RunID != "run-1" {
		t.Fatalf("unexpected filtered events: %+v", completed)
	}

	var payload RunCompletedPayload
	if err := json.Unmarshal(completed[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Transactions != 3 || payload.Metrics.TotalReturn != 0.1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
