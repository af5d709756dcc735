package retention

import "time"

type ErrorHandler func(err error)

// Config 控制本地数据的定期清理。保留天数 <= 0 表示该类数据不清理
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval 为两次清理之间的间隔；启动时会立即执行一次。
	Interval time.Duration `mapstructure:"interval"`
	// Workers 为并发执行清理任务的数量。
	Workers int `mapstructure:"workers"`
	// BatchRows 为单次 DELETE 的最大行数，避免长时间持有写锁。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的停顿。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	AuditKeepDays         int `mapstructure:"audit_keep_days"`
	AuthorizationKeepDays int `mapstructure:"authorization_keep_days"`
	// CheckpointKeepDays 只清理已结束的线程，等待授权或运行中的线程不受影响。
	CheckpointKeepDays int `mapstructure:"checkpoint_keep_days"`

	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Interval:              6 * time.Hour,
		Workers:               2,
		BatchRows:             500,
		IdleSleep:             50 * time.Millisecond,
		AuditKeepDays:         30,
		AuthorizationKeepDays: 30,
		CheckpointKeepDays:    90,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
