package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Store 为清理需要的删除接口，*storage.Storage 实现了它
type Store interface {
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteAuthorizationRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Checkpoints 为检查点后端的清理接口，sqlite/memory/redis 三种 checkpoint.Store 都实现了它
type Checkpoints interface {
	DeleteBefore(ctx context.Context, before time.Time, statuses []string, limit int) (int64, error)
}

// Report 为一次清理删除的行数
type Report struct {
	Audit          int64
	Authorizations int64
	Checkpoints    int64
}

type Collector struct {
	cfg         Config
	store       Store
	checkpoints Checkpoints
	logger      zerolog.Logger

	// finishedStatuses 为可以清理的检查点状态
	finishedStatuses []string
}

// NewCollector checkpoints 为空时不清理检查点
func NewCollector(store Store, checkpoints Checkpoints, cfg Config, finishedStatuses []string, logger zerolog.Logger) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Collector{
		cfg:              cfg.withDefaults(),
		store:            store,
		checkpoints:      checkpoints,
		logger:           logger,
		finishedStatuses: finishedStatuses,
	}, nil
}

func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 按保留策略清理一次
func (c *Collector) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	if c == nil || c.store == nil {
		return report, errors.New("retention collector not initialized")
	}

	var audit, auths, ckpts atomic.Int64
	var tasks []func(context.Context) error

	if c.cfg.AuditKeepDays > 0 {
		cut := now.Add(-days(c.cfg.AuditKeepDays))
		tasks = append(tasks, func(ctx context.Context) error {
			return c.deleteInBatches(ctx, &audit, func(ctx context.Context) (int64, error) {
				return c.store.DeleteAuditRecordsBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
		})
	}
	if c.cfg.AuthorizationKeepDays > 0 {
		cut := now.Add(-days(c.cfg.AuthorizationKeepDays))
		tasks = append(tasks, func(ctx context.Context) error {
			return c.deleteInBatches(ctx, &auths, func(ctx context.Context) (int64, error) {
				return c.store.DeleteAuthorizationRecordsBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
		})
	}
	if c.checkpoints != nil && c.cfg.CheckpointKeepDays > 0 && len(c.finishedStatuses) > 0 {
		cut := now.Add(-days(c.cfg.CheckpointKeepDays))
		tasks = append(tasks, func(ctx context.Context) error {
			return c.deleteInBatches(ctx, &ckpts, func(ctx context.Context) (int64, error) {
				return c.checkpoints.DeleteBefore(ctx, cut, c.finishedStatuses, c.cfg.BatchRows)
			})
		})
	}
	if len(tasks) == 0 {
		return report, nil
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	var sendErr error
	for _, t := range tasks {
		if sendErr != nil {
			break
		}
		select {
		case <-ctx.Done():
			sendErr = ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	report = Report{Audit: audit.Load(), Authorizations: auths.Load(), Checkpoints: ckpts.Load()}
	if sendErr != nil {
		return report, sendErr
	}
	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			c.logger.Error().Err(err).Msg("retention task failed")
			return report, err
		}
	}

	c.logger.Info().
		Int64("audit", report.Audit).
		Int64("authorizations", report.Authorizations).
		Int64("checkpoints", report.Checkpoints).
		Msg("retention pass finished")
	return report, nil
}

func (c *Collector) deleteInBatches(ctx context.Context, total *atomic.Int64, del func(context.Context) (int64, error)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := del(ctx)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		total.Add(affected)
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *Collector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
