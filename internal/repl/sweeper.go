package repl

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts idle sessions in the background. The engine
// also sweeps opportunistically on access, so the sweeper exists to reclaim
// memory for sessions nobody touches again.
type Sweeper struct {
	cron   *cron.Cron
	engine *Engine
	logger *slog.Logger
}

// NewSweeper schedules an eviction pass every interval.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	sw := &Sweeper{cron: c, engine: engine, logger: logger}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, sw.run); err != nil {
		return nil, fmt.Errorf("schedule eviction sweep: %w", err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	if n := sw.engine.EvictExpired(); n > 0 {
		sw.logger.Info("eviction sweep completed", slog.Int("evicted", n))
	}
}

// Start begins background sweeping.
func (sw *Sweeper) Start() {
	sw.cron.Start()
	sw.logger.Debug("eviction sweeper started")
}

// Stop halts sweeping and waits for an in-flight pass to finish.
func (sw *Sweeper) Stop() {
	ctx := sw.cron.Stop()
	<-ctx.Done()
}
