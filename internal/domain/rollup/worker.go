package rollup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/pkg/metrics"
)

const (
	// WakeChannel carries "something changed" pings from redemptions.
	WakeChannel = "eco:rollup:wake"

	SnapshotKey = "stats/platform.json"

	defaultInterval = 10 * time.Minute
	runTimeout      = 2 * time.Minute
	minWakeGap      = 30 * time.Second
)

// VoucherExpirer moves issued vouchers past their TTL to expired.
type VoucherExpirer interface {
	ExpireVouchers(ctx context.Context) (int64, error)
}

// SnapshotStore receives the published platform overview.
type SnapshotStore interface {
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
}

// Worker runs the periodic rollup jobs: voucher expiry, counter
// reconciliation and snapshot publishing.
type Worker struct {
	agg       *Aggregator
	vouchers  VoucherExpirer
	snapshots SnapshotStore
	redis     *redis.Client
	clock     clock.Clock
	interval  time.Duration

	wake    chan struct{}
	stopCh  chan struct{}
	done    sync.WaitGroup
	lastRun time.Time
}

// NewWorker creates a rollup worker. vouchers, snapshots and rdb may be nil
// to skip the matching job or the wake subscription.
func NewWorker(agg *Aggregator, vouchers VoucherExpirer, snapshots SnapshotStore, rdb *redis.Client, clk clock.Clock, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Worker{
		agg:       agg,
		vouchers:  vouchers,
		snapshots: snapshots,
		redis:     rdb,
		clock:     clk,
		interval:  interval,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting rollup worker...")

	w.done.Add(1)
	go w.loop()

	if w.redis != nil {
		w.done.Add(1)
		go w.subscribe()
	}
}

// Stop gracefully stops the background worker and waits for the current run.
func (w *Worker) Stop() {
	log.Info().Msg("Stopping rollup worker...")
	close(w.stopCh)
	w.done.Wait()
}

// Notify asks for an early run. Pings arriving while one is pending coalesce.
func (w *Worker) Notify(context.Context) {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer w.done.Done()

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.run()

	for {
		select {
		case <-ticker.C:
			w.run()
		case <-w.wake:
			if w.clock.Since(w.lastRun) >= minWakeGap {
				w.run()
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) subscribe() {
	defer w.done.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := w.redis.Subscribe(ctx, WakeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.Notify(ctx)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	w.lastRun = w.clock.Now()
	if err := w.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Rollup run finished with errors")
	}
}

// RunOnce executes every job once. A failing job does not stop the others.
func (w *Worker) RunOnce(ctx context.Context) error {
	log.Debug().Msg("Starting rollup run...")

	var errs []error

	// 1. Expire vouchers
	if w.vouchers != nil {
		n, err := w.vouchers.ExpireVouchers(ctx)
		record("expire_vouchers", err)
		if err != nil {
			log.Error().Err(err).Msg("Failed to expire vouchers")
			errs = append(errs, err)
		} else if n > 0 {
			log.Info().Int64("count", n).Msg("Expired vouchers")
		}
	}

	// 2. Reconcile business counters
	n, err := w.agg.ReconcileCounters(ctx)
	record("reconcile_counters", err)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reconcile business counters")
		errs = append(errs, err)
	} else {
		log.Debug().Int("businesses", n).Msg("Reconciled business counters")
	}

	// 3. Publish platform snapshot
	if w.snapshots != nil {
		err := w.publish(ctx)
		record("publish_snapshot", err)
		if err != nil {
			log.Error().Err(err).Msg("Failed to publish stats snapshot")
			errs = append(errs, err)
		}
	}

	log.Debug().Msg("Finished rollup run")
	return errors.Join(errs...)
}

func (w *Worker) publish(ctx context.Context) error {
	overview, err := w.agg.Overview(ctx, Scope{}, DefaultWindow)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(overview); err != nil {
		return err
	}
	return w.snapshots.Put(ctx, SnapshotKey, &buf, "application/json")
}

func record(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RollupRuns.WithLabelValues(job, result).Inc()
}

// RedisNotifier publishes wake pings for workers in other processes.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context) {
	if err := n.client.Publish(ctx, WakeChannel, "1").Err(); err != nil {
		log.Warn().Err(err).Msg("rollup wake publish failed")
	}
}
