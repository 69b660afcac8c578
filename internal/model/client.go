package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-rl/internal/upstream"
)

const serviceName = "model"

// Client 通过 HTTP 协议访问模型服务。
type Client struct {
	endpoint upstream.Endpoint
	caller   *upstream.Caller
	logger   *zap.Logger
}

// NewClient 创建模型服务客户端。
func NewClient(endpoint upstream.Endpoint, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		caller:   upstream.NewCaller(serviceName, timeout, logger),
		logger:   logger,
	}
}

type actionRequest struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

type learnRequest struct {
	ID        string  `json:"id"`
	State     State   `json:"state"`
	Action    int     `json:"action"`
	NextState State   `json:"next_state"`
	Reward    float64 `json:"reward"`
}

// Initialize 调用 /init 获取会话标识。
func (c *Client) Initialize(ctx context.Context) (string, error) {
	body, err := c.caller.Get(ctx, "init", c.endpoint.URL("/init"))
	if err != nil {
		return "", err
	}

	id := strings.ReplaceAll(strings.TrimSpace(string(body)), `"`, "")
	if id == "" {
		return "", &upstream.ProtocolError{Service: serviceName, Call: "init", Payload: "会话标识为空"}
	}
	if err := ValidateSession(id); err != nil {
		return "", &upstream.ProtocolError{Service: serviceName, Call: "init", Payload: id, Err: err}
	}

	c.logger.Info("模型会话已初始化", zap.String("session", id))
	return id, nil
}

// Act 调用 /action 获取离散动作。
func (c *Client) Act(ctx context.Context, session string, state State) (int, error) {
	body, err := c.caller.PostJSON(ctx, "action", c.endpoint.URL("/action"), actionRequest{ID: session, State: state})
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(body))
	action, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &upstream.ProtocolError{
			Service: serviceName,
			Call:    "action",
			Payload: raw,
			Err:     fmt.Errorf("动作不是整数: %w", err),
		}
	}
	return action, nil
}

// Learn 调用 /learn 执行学习步骤。
func (c *Client) Learn(ctx context.Context, session string, t Transition) (float64, error) {
	body, err := c.caller.PostJSON(ctx, "learn", c.endpoint.URL("/learn"), learnRequest{
		ID:        session,
		State:     t.State,
		Action:    t.Action,
		NextState: t.NextState,
		Reward:    t.Reward,
	})
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(body))
	var loss float64
	if err := json.Unmarshal([]byte(raw), &loss); err != nil {
		// 部分实现以带引号的字符串返回损失值
		parsed, parseErr := strconv.ParseFloat(strings.Trim(raw, `"`), 64)
		if parseErr != nil {
			return 0, &upstream.ProtocolError{
				Service: serviceName,
				Call:    "learn",
				Payload: raw,
				Err:     fmt.Errorf("损失值无法解析: %w", parseErr),
			}
		}
		loss = parsed
	}
	return loss, nil
}
