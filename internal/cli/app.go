package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/arcade"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/logging"
	"github.com/wwwzy/ArcadeAgent/internal/retention"
	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

// app 汇集各命令共用的组件，按需初始化
type app struct {
	logger      zerolog.Logger
	store       *storage.Storage
	checkpoints checkpoint.Store
	tools       *arcade.Manager
	runner      *agent.Runner

	closers []func() error
}

// newApp 打开本地存储与检查点；withAgent 为 true 时加载工具并构建 Agent
func newApp(ctx context.Context, log zerolog.Logger, withAgent bool) (*app, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	a := &app{logger: log}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if !withAgent {
		return a, nil
	}
	if err := cfg.ValidateAgent(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.loadTools(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildRunner(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	switch cfg.Checkpoint.Backend {
	case checkpoint.BackendSQLite, "":
		cs, err := checkpoint.NewSQLiteStore(store)
		if err != nil {
			return err
		}
		a.checkpoints = cs
	case checkpoint.BackendMemory:
		a.checkpoints = checkpoint.NewMemoryStore()
	case checkpoint.BackendRedis:
		cs, err := checkpoint.NewRedisStore(ctx, cfg.Checkpoint.Redis)
		if err != nil {
			return fmt.Errorf("连接 redis 失败: %w", err)
		}
		a.checkpoints = cs
		a.closers = append(a.closers, cs.Close)
	default:
		return fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	a.logger.Debug().Str("backend", cfg.Checkpoint.Backend).Msg("checkpoint store ready")
	return nil
}

func (a *app) loadTools(ctx context.Context) error {
	client, err := arcade.NewClient(cfg.Arcade.BaseURL, cfg.Arcade.APIKey,
		arcade.WithTimeout(cfg.Arcade.HTTPTimeout),
		arcade.WithStatusWait(cfg.Arcade.StatusWait),
		arcade.WithPollInterval(cfg.Arcade.PollInterval),
		arcade.WithLogger(logging.Component(a.logger, "arcade")),
	)
	if err != nil {
		return err
	}
	mgr := arcade.NewManager(client, logging.Component(a.logger, "registry"))
	if err := mgr.Init(ctx, cfg.Arcade.Toolkits); err != nil {
		return fmt.Errorf("加载工具失败: %w", err)
	}
	a.tools = mgr
	return nil
}

func (a *app) buildRunner(ctx context.Context) error {
	cm, err := agent.NewChatModel(ctx, cfg.Ark)
	if err != nil {
		return fmt.Errorf("创建模型失败: %w", err)
	}
	graph, err := agent.BuildGraph(ctx, agent.Deps{
		ChatModel:            cm,
		Registry:             a.tools,
		Tools:                a.tools.Tools(),
		Audit:                a.store,
		Authorizations:       a.store,
		Logger:               a.logger,
		MaxIterations:        cfg.Agent.MaxIterations,
		AuthorizationTimeout: cfg.Agent.AuthorizationTimeout,
	})
	if err != nil {
		return fmt.Errorf("构建 Agent Graph 失败: %w", err)
	}
	a.runner = agent.NewRunner(graph, a.checkpoints, logging.Component(a.logger, "runner"))
	return nil
}

func (a *app) retentionCollector() (*retention.Collector, error) {
	return retention.NewCollector(a.store, a.checkpoints, cfg.Retention, agent.ClosedStatuses, logging.Component(a.logger, "retention"))
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
