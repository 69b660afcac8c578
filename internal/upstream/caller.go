package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxPayloadLength = 2048

// Caller 负责以 JSON 方式调用上游 HTTP 服务并统一校验响应状态。
type Caller struct {
	service string
	http    *http.Client
	logger  *zap.Logger
}

// NewCaller 创建调用器，timeout 为 0 时不设置超时。
func NewCaller(service string, timeout time.Duration, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		service: service,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithHTTPClient 替换底层 http.Client，主要用于测试。
func (c *Caller) WithHTTPClient(client *http.Client) *Caller {
	if client != nil {
		c.http = client
	}
	return c
}

// Get 发起 GET 请求并返回成功响应体。
func (c *Caller) Get(ctx context.Context, call, url string) ([]byte, error) {
	return c.do(ctx, call, http.MethodGet, url, nil)
}

// PostJSON 以 JSON 编码 body 发起 POST 请求并返回成功响应体。
func (c *Caller) PostJSON(ctx context.Context, call, url string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: 序列化 %s 请求失败: %w", call, err)
	}
	return c.do(ctx, call, http.MethodPost, url, payload)
}

func (c *Caller) do(ctx context.Context, call, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &ProtocolError{Service: c.service, Call: call, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("上游调用失败",
			zap.String("service", c.service),
			zap.String("call", call),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, &ProtocolError{Service: c.service, Call: call, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProtocolError{Service: c.service, Call: call, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("上游返回非成功状态",
			zap.String("service", c.service),
			zap.String("call", call),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)),
		)
		return nil, &ProtocolError{
			Service: c.service,
			Call:    call,
			Status:  resp.StatusCode,
			Payload: truncate(strings.TrimSpace(string(data))),
		}
	}

	c.logger.Debug("上游调用完成",
		zap.String("service", c.service),
		zap.String("call", call),
		zap.Duration("latency", time.Since(start)),
	)

	return data, nil
}

func truncate(s string) string {
	if len(s) <= maxPayloadLength {
		return s
	}
	return s[:maxPayloadLength] + "..."
}
