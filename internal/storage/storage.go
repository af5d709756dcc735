package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultBusyTimeout = 5 * time.Second

// Config 为 sqlite 存储配置；pragma 全部经 DSN 下发，对池内每个连接生效
type Config struct {
	Path            string        `mapstructure:"path"`
	InMemory        bool          `mapstructure:"in_memory"`
	EnableWAL       bool          `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Storage 持有检查点、授权记录与审计记录三张表
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

var errNotInitialized = errors.New("storage not initialized")

// models 为 Open 时自动迁移的表
var models = []any{&Checkpoint{}, &AuthorizationRecord{}, &AuditRecord{}}

// Open 打开数据库、迁移表结构并确认连接可用
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	cfg.applyPool(sqlDB)

	s := &Storage{db: db, sqlDB: sqlDB}
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB 暴露底层 gorm 句柄，供维护命令与测试直接改写记录
func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (cfg Config) dsn() (string, error) {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	params := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", timeout.Milliseconds())}

	if cfg.InMemory {
		params = append(params, "mode=memory", "cache=shared")
		return "file:arcadeagent?" + strings.Join(params, "&"), nil
	}
	if cfg.Path == "" {
		return "", errors.New("sqlite path is required unless in_memory is set")
	}
	if cfg.EnableWAL {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + strings.Join(params, "&"), nil
}

func (cfg Config) applyPool(db *sql.DB) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
