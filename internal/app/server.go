package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"trades-rl/internal/backtest"
	"trades-rl/internal/monitor"
	"trades-rl/internal/upstream"
)

// apiResponse 为统一响应格式。
type apiResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// upstreamFailure 为上游协议错误的响应内容。
type upstreamFailure struct {
	Service string `json:"service"`
	Call    string `json:"call"`
	Status  int    `json:"status,omitempty"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error"`
}

type handler struct {
	orch    *Orchestrator
	monitor *monitor.Service
	logger  *zap.Logger
}

func newEcho(orch *Orchestrator, mon *monitor.Service, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(recoverMiddleware(logger))
	e.Use(requestLogging(logger))

	h := &handler{orch: orch, monitor: mon, logger: logger}
	e.POST("/start", h.start)
	e.POST("/continue", h.continueRun)
	e.GET("/summary/:id", h.summary)
	e.GET("/events", h.events)
	e.GET("/healthz", h.healthz)

	return e
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, apiResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func (h *handler) start(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, []FieldError{{Code: "ERR_BIND", Message: bindMessage(err)}})
	}
	resp, err := h.orch.Start(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, resp)
}

func (h *handler) continueRun(c echo.Context) error {
	var req ContinueRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, []FieldError{{Code: "ERR_BIND", Message: bindMessage(err)}})
	}
	resp, err := h.orch.Continue(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, resp)
}

func (h *handler) summary(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return respond(c, http.StatusBadRequest, []FieldError{{Code: "ERR_REQUIRED", Field: "id", Message: "id 不能为空"}})
	}
	runs, err := h.orch.Summary(id)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return respond(c, http.StatusBadRequest, verr.Fields)
		}
		h.logger.Error("读取汇总失败", zap.String("session", id), zap.Error(err))
		return respond(c, http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, runs)
}

func (h *handler) events(c echo.Context) error {
	if h.monitor == nil {
		return respond(c, http.StatusServiceUnavailable, "监控未启用")
	}

	limit := 200
	if qs := c.QueryParam("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}
	eventType := monitor.EventType(strings.ToLower(strings.TrimSpace(c.QueryParam("type"))))
	session := strings.TrimSpace(c.QueryParam("session"))

	events, err := h.monitor.ListEvents(c.Request().Context(), eventType, session, limit)
	if err != nil {
		return respond(c, http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusOK, events)
}

func (h *handler) healthz(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]string{"status": "ok"})
}

// fail 将领域错误映射为 HTTP 状态码。
func (h *handler) fail(c echo.Context, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return respond(c, http.StatusBadRequest, verr.Fields)
	}

	var perr *upstream.ProtocolError
	if errors.As(err, &perr) {
		body := upstreamFailure{
			Service: perr.Service,
			Call:    perr.Call,
			Status:  perr.Status,
			Payload: perr.Payload,
			Error:   perr.Error(),
		}
		return respond(c, http.StatusBadGateway, body)
	}

	if errors.Is(err, ErrSessionBusy) {
		return respond(c, http.StatusConflict, err.Error())
	}

	if errors.Is(err, backtest.ErrDegenerateState) {
		h.logger.Error("模拟状态异常", zap.Error(err))
		return respond(c, http.StatusInternalServerError, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return respond(c, http.StatusServiceUnavailable, err.Error())
	}

	h.logger.Error("处理请求失败", zap.Error(err))
	return respond(c, http.StatusInternalServerError, err.Error())
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprintf("%v", he.Message)
	}
	return err.Error()
}

func requestLogging(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			logger.Info("HTTP 请求",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
			)
			return err
		}
	}
}

func recoverMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("请求处理 panic", zap.Any("panic", r), zap.Stack("stack"))
					err = respond(c, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			return next(c)
		}
	}
}
