package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cycler 可被周期性触发的任务
type Cycler interface {
	RunCycle(ctx context.Context) error
}

// Run 立即执行一次，之后每 interval 触发一次。
// 每次触发在独立 goroutine 中运行，重叠由 Cycler 自身跳过；熔断停机时返回 ErrHalted。
func Run(ctx context.Context, c Cycler, interval time.Duration) error {
	halted := make(chan error, 1)
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.RunCycle(ctx)
			if errors.Is(err, ErrHalted) {
				select {
				case halted <- err:
				default:
				}
			}
		}()
	}

	slog.Info("scheduler started", "interval", interval)
	trigger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping")
			return nil
		case err := <-halted:
			slog.Error("scheduler halted", "error", err)
			return err
		case <-ticker.C:
			trigger()
		}
	}
}
