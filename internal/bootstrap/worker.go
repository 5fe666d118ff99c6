package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/pkg/logger"
)

// refreshGuardWindow marks groups whose folders have not been touched long
// enough that their refresh token is close to its 90-day expiry.
const refreshGuardWindow = 85 * 24 * time.Hour

// systemUserID owns maintenance tasks so they never collide with user
// submissions on the status board.
const systemUserID int64 = 0

// Worker runs the pool, the writer daemon and the maintenance watchdog.
type Worker struct {
	deps     *Dependencies
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewWorker(deps *Dependencies, maintenanceInterval time.Duration) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		deps:     deps,
		interval: maintenanceInterval,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Component("worker_runtime"),
	}
}

// Start brings up the pool, the writer daemon and the watchdog, then blocks
// until Stop.
func (w *Worker) Start() {
	w.deps.Pool.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deps.Writer.Run(w.ctx)
	}()

	if w.interval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.watchdog()
		}()
	}

	w.log.Info().Dur("maintenance_interval", w.interval).Msg("worker runtime started")
	<-w.ctx.Done()
}

// Stop shuts down the watchdog, the writer and finally the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.deps.Pool.Stop()
}

// watchdog submits a check sync for every group whose folders went stale, so
// refresh tokens are exercised before they expire.
func (w *Worker) watchdog() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.checkStaleGroups()
		}
	}
}

func (w *Worker) checkStaleGroups() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	groups, err := w.deps.Folders.ListStaleGroups(ctx, time.Now().Add(-refreshGuardWindow))
	if err != nil {
		w.log.Error().Err(err).Msg("stale group listing failed")
		return
	}
	if len(groups) == 0 {
		return
	}

	w.log.Info().Int("groups", len(groups)).Msg("submitting keep-alive checks")
	for _, groupID := range groups {
		_, err := w.deps.Tasks.Submit(ctx, systemUserID, true, domain.TaskSync, groupID,
			map[string]any{"strategy": string(domain.SyncCheck)})
		if err != nil {
			w.log.Error().Err(err).Str("group_id", groupID).Msg("keep-alive submission failed")
		}
	}
}
