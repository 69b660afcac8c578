package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-rl/internal/store"
)

// Service 负责持久化回测运行事件。
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := st.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			session TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session);`,
	)
	if err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{store: st, logger: logger}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.store.DB().ExecContext(ctx,
		`INSERT INTO run_events (event_type, run_id, session, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), event.RunID, event.Session, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordRunStarted 记录回测开始。
func (s *Service) RecordRunStarted(ctx context.Context, runID, session string, payload RunStartedPayload) {
	s.recordQuietly(ctx, Event{Type: EventRunStarted, RunID: runID, Session: session, Payload: payload})
}

// RecordRunCompleted 记录单次回测完成。
func (s *Service) RecordRunCompleted(ctx context.Context, runID, session string, payload RunCompletedPayload) {
	s.recordQuietly(ctx, Event{Type: EventRunCompleted, RunID: runID, Session: session, Payload: payload})
}

// RecordRunFailed 记录回测失败。
func (s *Service) RecordRunFailed(ctx context.Context, runID, session, msg string, err error) {
	payload := RunFailedPayload{Message: msg}
	if err != nil {
		payload.Error = err.Error()
	}
	s.recordQuietly(ctx, Event{Type: EventRunFailed, RunID: runID, Session: session, Payload: payload})
}

func (s *Service) recordQuietly(ctx context.Context, event Event) {
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, session string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, run_id, session, payload, created_at FROM run_events WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	if session != "" {
		query += ` AND session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			runID   string
			sess    string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &runID, &sess, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			RunID:     runID,
			Session:   sess,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
