package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// ProtocolError 表示信号服务或模型服务返回了非成功响应，整个回测随之中止。
type ProtocolError struct {
	Service string // model / signal
	Call    string // init / action / learn / 信号名
	Status  int
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 服务调用 %s 失败", e.Service, e.Call)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, ": %s", e.Payload)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError 判断错误链中是否包含上游协议错误。
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}
