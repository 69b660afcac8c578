package monitor

import (
	"time"

	"trades-rl/internal/backtest"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Session   string      `json:"session,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RunStartedPayload 记录回测请求参数。
type RunStartedPayload struct {
	Asset     string  `json:"asset"`
	Interval  string  `json:"interval"`
	StartTime int64   `json:"start_time"`
	EndTime   int64   `json:"end_time"`
	Starting  float64 `json:"starting"`
	Repeat    int     `json:"repeat"`
	Signals   int     `json:"signals"`
	Rows      int     `json:"rows"`
}

// RunCompletedPayload 记录一次回测的结果概要。
type RunCompletedPayload struct {
	Run          int              `json:"run"`
	FileSuffix   string           `json:"file_suffix"`
	Steps        int              `json:"steps"`
	Transactions int              `json:"transactions"`
	Metrics      backtest.Metrics `json:"metrics"`
}

// RunFailedPayload 记录回测失败原因。
type RunFailedPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
