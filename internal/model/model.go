package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// ActionHold 表示维持当前仓位。
	ActionHold = 0
	// ActionExchange 表示在现金与资产之间完整切换。
	ActionExchange = 1
)

// State 为发送给模型的观测向量，键为特征名。
type State map[string]float64

// Transition 为一次学习步骤的输入。
type Transition struct {
	State     State
	Action    int
	NextState State
	Reward    float64
}

// Model 是模型服务的能力接口，内部权重对调用方不透明，只能通过 Learn 修改。
type Model interface {
	// Initialize 创建新的学习会话并返回会话标识。
	Initialize(ctx context.Context) (string, error)
	// Act 针对给定状态请求动作。
	Act(ctx context.Context, session string, state State) (int, error)
	// Learn 执行一次学习并返回损失值。
	Learn(ctx context.Context, session string, t Transition) (float64, error)
}

// ErrInvalidSession 表示会话标识无法安全地用作文件名。
var ErrInvalidSession = errors.New("model: 会话标识非法")

// ValidateSession 拒绝空标识以及包含路径分隔符或 ".." 的标识，结果文件名直接由会话标识拼接。
func ValidateSession(id string) error {
	if id == "" || id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}
