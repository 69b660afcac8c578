package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Signals    SignalsConfig    `mapstructure:"signals"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 描述 HTTP 接口监听参数。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelConfig 描述模型服务调用参数。
type ModelConfig struct {
	// Timeout 为单次 init/action/learn 请求的超时，0 表示不限制。
	Timeout     time.Duration `mapstructure:"timeout"`
	ActionSpace int           `mapstructure:"action_space"`
}

// SignalsConfig 描述信号服务调用参数。
type SignalsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PriceFeature string        `mapstructure:"price_feature"`
}

// ExchangeConfig 描述交易所行情源连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	PageLimit  int64       `mapstructure:"page_limit"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SimulationConfig 控制奖励与手续费策略。
type SimulationConfig struct {
	BonusOnExchange bool    `mapstructure:"bonus_on_exchange"`
	ExchangeBonus   float64 `mapstructure:"exchange_bonus"`
	FeeRate         float64 `mapstructure:"fee_rate"`
	RewardScale     float64 `mapstructure:"reward_scale"`
	SessionReuse    bool    `mapstructure:"session_reuse"`
	MaxRepeat       int     `mapstructure:"max_repeat"`
}

// StorageConfig 描述结果文件落盘位置。
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于[1,65535]"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Model.Timeout < 0 {
		err = multierr.Append(err, errors.New("model.timeout 不能为负"))
	}
	if c.Model.ActionSpace < 0 {
		err = multierr.Append(err, errors.New("model.action_space 不能为负"))
	}
	if c.Model.ActionSpace > 0 && c.Model.ActionSpace < 2 {
		err = multierr.Append(err, errors.New("model.action_space 至少包含持有与交换两个动作"))
	}
	if c.Signals.Timeout < 0 {
		err = multierr.Append(err, errors.New("signals.timeout 不能为负"))
	}
	if c.Signals.PriceFeature == "" {
		err = multierr.Append(err, errors.New("signals.price_feature 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.PageLimit <= 0 {
		err = multierr.Append(err, errors.New("exchange.page_limit 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Simulation.ExchangeBonus < 0 {
		err = multierr.Append(err, errors.New("simulation.exchange_bonus 不能为负"))
	}
	if c.Simulation.FeeRate < 0 || c.Simulation.FeeRate >= 1 {
		err = multierr.Append(err, errors.New("simulation.fee_rate 应位于[0,1)"))
	}
	if c.Simulation.RewardScale <= 0 {
		err = multierr.Append(err, errors.New("simulation.reward_scale 必须大于0"))
	}
	if c.Simulation.MaxRepeat <= 0 {
		err = multierr.Append(err, errors.New("simulation.max_repeat 必须大于0"))
	}
	if c.Storage.DataDir == "" {
		err = multierr.Append(err, errors.New("storage.data_dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
