package app

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"trades-rl/internal/backtest"
	"trades-rl/internal/config"
	"trades-rl/internal/indicator"
	"trades-rl/internal/model"
	"trades-rl/internal/signal"
	"trades-rl/internal/upstream"
)

// SignalRequest 描述请求中的单个信号。
type SignalRequest struct {
	Name   string            `json:"name" validate:"required"`
	Source string            `json:"source" default:"http" validate:"oneof=http exchange"`
	URL    upstream.Endpoint `json:"url" validate:"-"`
}

// IndicatorRequest 描述需要追加的派生指标列。
type IndicatorRequest struct {
	Name   string `json:"name" validate:"required"`
	Kind   string `json:"kind" validate:"oneof=rsi ema sma macd"`
	Period int    `json:"period" validate:"gte=0,lte=500"`
	Source string `json:"source" default:"price"`
}

// PolicyOverride 按请求覆盖奖励与手续费策略，未填写的字段沿用配置。
type PolicyOverride struct {
	BonusOnExchange *bool    `json:"bonus_on_exchange"`
	ExchangeBonus   *float64 `json:"exchange_bonus" validate:"omitempty,gte=0"`
	FeeRate         *float64 `json:"fee_rate" validate:"omitempty,gte=0,lt=1"`
	RewardScale     *float64 `json:"reward_scale" validate:"omitempty,gt=0"`
	SessionReuse    *bool    `json:"session_reuse"`
}

// StartRequest 为 /start 的请求体。
type StartRequest struct {
	Asset         string             `json:"asset" validate:"required"`
	Interval      string             `json:"interval" validate:"required,oneof=1s 1m 1h 1d"`
	StartingValue float64            `json:"starting_value" validate:"gt=0"`
	StartTime     int64              `json:"start_time" validate:"gt=0"`
	EndTime       int64              `json:"end_time" validate:"gtfield=StartTime"`
	ModelURL      upstream.Endpoint  `json:"model_url"`
	Signals       []SignalRequest    `json:"signals" validate:"required,min=1,dive"`
	Indicators    []IndicatorRequest `json:"indicators" validate:"omitempty,dive"`
	Repeat        int                `json:"repeat" default:"1" validate:"gte=1,lte=50"`
	Policy        *PolicyOverride    `json:"policy"`
}

// ContinueRequest 为 /continue 的请求体，沿用已有的模型会话。
type ContinueRequest struct {
	StartRequest
	ID string `json:"id" validate:"required,session_id"`
}

// FieldError 描述单个字段的校验失败。
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 表示请求在执行前被拒绝。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return "app: 请求校验失败: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(code, field, message string) {
	e.Fields = append(e.Fields, FieldError{Code: code, Field: field, Message: message})
}

// requestValidator 负责填充默认值并校验请求。
type requestValidator struct {
	validate  *validator.Validate
	maxRepeat int
	now       func() time.Time
}

func newRequestValidator(maxRepeat int, now func() time.Time) *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("host_or_ip", func(fl validator.FieldLevel) bool {
		return isHostOrIPv4(fl.Field().String())
	})
	_ = v.RegisterValidation("session_id", func(fl validator.FieldLevel) bool {
		return model.ValidateSession(fl.Field().String()) == nil
	})
	if now == nil {
		now = time.Now
	}
	return &requestValidator{validate: v, maxRepeat: maxRepeat, now: now}
}

// isHostOrIPv4 只接受 localhost 或点分十进制 IPv4 地址。
func isHostOrIPv4(host string) bool {
	if host == "localhost" {
		return true
	}
	if strings.Count(host, ".") != 3 {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil
}

// check 填充默认值后校验请求，所有问题一次性返回。
func (v *requestValidator) check(req *StartRequest) error {
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("app: 填充默认值失败: %w", err)
	}

	verr := &ValidationError{}
	if err := v.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("app: 校验请求失败: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add("ERR_"+strings.ToUpper(fe.Tag()), fieldPath(fe), fieldMessage(fe))
		}
	}

	if req.EndTime >= v.now().UnixMilli() {
		verr.add("ERR_FUTURE", "end_time", "end_time 不能晚于当前时间")
	}
	if v.maxRepeat > 0 && req.Repeat > v.maxRepeat {
		verr.add("ERR_LTE", "repeat", fmt.Sprintf("repeat 不能超过 %d", v.maxRepeat))
	}

	names := make(map[string]struct{}, len(req.Signals))
	for i, s := range req.Signals {
		if _, dup := names[s.Name]; dup && s.Name != "" {
			verr.add("ERR_UNIQUE", fmt.Sprintf("signals[%d].name", i), fmt.Sprintf("信号名 %q 重复", s.Name))
		}
		names[s.Name] = struct{}{}

		if signal.Kind(s.Source) != signal.KindHTTP {
			continue
		}
		if err := v.validate.Struct(s.URL); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) {
				for _, fe := range fieldErrs {
					field := fmt.Sprintf("signals[%d].url.%s", i, fe.Field())
					verr.add("ERR_"+strings.ToUpper(fe.Tag()), field, fieldMessage(fe))
				}
			}
		}
	}

	for i, spec := range req.indicatorSpecs() {
		if err := spec.Validate(); err != nil {
			verr.add("ERR_INDICATOR", fmt.Sprintf("indicators[%d]", i), err.Error())
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// checkSession 校验 /continue 携带的会话标识。
func (v *requestValidator) checkSession(id string, verr *ValidationError) {
	if err := v.validate.Var(id, "required,session_id"); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.add("ERR_"+strings.ToUpper(fe.Tag()), "id", fieldMessageFor("id", fe))
			}
			return
		}
		verr.add("ERR_SESSION_ID", "id", err.Error())
	}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	return fieldMessageFor(fieldPath(fe), fe)
}

func fieldMessageFor(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s 不能为空", field)
	case "oneof":
		return fmt.Sprintf("%s 必须为以下之一: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s 必须大于 %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s 必须不小于 %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s 必须小于 %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s 必须不大于 %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s 至少包含 %s 项", field, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s 必须晚于 %s", field, strings.ToLower(fe.Param()))
	case "session_id":
		return fmt.Sprintf("%s 不能包含路径分隔符或 \"..\"", field)
	case "host_or_ip":
		return fmt.Sprintf("%s 必须为 localhost 或 IPv4 地址", field)
	default:
		return fmt.Sprintf("%s 校验失败: %s", field, fe.Tag())
	}
}

func (r StartRequest) query() signal.Query {
	return signal.Query{
		Asset:     r.Asset,
		Interval:  r.Interval,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}

func (r StartRequest) signalSpecs() []signal.Spec {
	specs := make([]signal.Spec, 0, len(r.Signals))
	for _, s := range r.Signals {
		specs = append(specs, signal.Spec{
			Name:     s.Name,
			Kind:     signal.Kind(s.Source),
			Endpoint: s.URL,
		})
	}
	return specs
}

func (r StartRequest) indicatorSpecs() []indicator.Spec {
	specs := make([]indicator.Spec, 0, len(r.Indicators))
	for _, ind := range r.Indicators {
		specs = append(specs, indicator.Spec{
			Name:   ind.Name,
			Kind:   indicator.Kind(ind.Kind),
			Period: ind.Period,
			Source: ind.Source,
		})
	}
	return specs
}

// policyFrom 以配置为基准叠加请求覆盖项。
func policyFrom(cfg *config.Config, override *PolicyOverride) backtest.Policy {
	p := backtest.Policy{
		BonusOnExchange: cfg.Simulation.BonusOnExchange,
		ExchangeBonus:   cfg.Simulation.ExchangeBonus,
		FeeRate:         cfg.Simulation.FeeRate,
		RewardScale:     cfg.Simulation.RewardScale,
		SessionReuse:    cfg.Simulation.SessionReuse,
		PriceFeature:    cfg.Signals.PriceFeature,
		ActionSpace:     cfg.Model.ActionSpace,
	}
	if override == nil {
		return p
	}
	if override.BonusOnExchange != nil {
		p.BonusOnExchange = *override.BonusOnExchange
	}
	if override.ExchangeBonus != nil {
		p.ExchangeBonus = *override.ExchangeBonus
	}
	if override.FeeRate != nil {
		p.FeeRate = *override.FeeRate
	}
	if override.RewardScale != nil {
		p.RewardScale = *override.RewardScale
	}
	if override.SessionReuse != nil {
		p.SessionReuse = *override.SessionReuse
	}
	return p
}
