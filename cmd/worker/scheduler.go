package main

import (
	"context"
	"time"

	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

// runReorderScheduler periodically enqueues a low-stock sweep. A SETNX lock
// keeps concurrent worker instances from double-enqueuing within an interval.
func runReorderScheduler(ctx context.Context, cfg *config.Config, redisClient *redis.Client, jobQueue *queue.Queue, logg *logger.Logger) {
	interval := cfg.Stock.ReorderSweepInterval
	if interval <= 0 {
		return
	}

	lockKey := redisClient.Key("lock", "reorder_check")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		acquired, err := redisClient.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), interval-time.Second)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "reorder sweep lock check failed")
			continue
		}
		if !acquired {
			continue
		}

		if _, err := jobQueue.Enqueue(ctx, enums.JobKindReorderCheck, enums.JobLaneLow, nil); err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "failed to enqueue reorder sweep")
		}
	}
}

// runOrderReconciler periodically re-issues fulfillment jobs for orders whose
// follow-up job was lost, usually to a failed enqueue after the status write
// committed. Same SETNX lock scheme as the reorder sweep.
func runOrderReconciler(ctx context.Context, cfg *config.Config, redisClient *redis.Client, ordersService orders.Service, logg *logger.Logger) {
	interval := cfg.Queue.ReconcileInterval
	if interval <= 0 || cfg.Queue.StalePendingAfter <= 0 {
		return
	}

	lockKey := redisClient.Key("lock", "order_reconcile")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		acquired, err := redisClient.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), interval-time.Second)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "order reconcile lock check failed")
			continue
		}
		if !acquired {
			continue
		}

		requeued, err := ordersService.RequeueStale(ctx, cfg.Queue.StalePendingAfter)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stale order sweep failed")
			continue
		}
		if requeued > 0 {
			logg.Info(logg.WithField(ctx, "requeued", requeued), "re-issued jobs for stale orders")
		}
	}
}
