package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/sykli/engine/pkg/logger"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sykli",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of cache lookups that found a usable, up-to-date record.",
	})
	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sykli",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of cache lookups that missed, labeled by reason.",
	}, []string{"reason"})
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sykli",
		Subsystem: "cache",
		Name:      "gc_runs_total",
		Help:      "Number of cache garbage-collection sweeps completed.",
	})
	gcLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sykli",
		Subsystem: "cache",
		Name:      "gc_last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed garbage-collection sweep.",
	})
)

// RecordCheck updates the hits/misses counters for one Check outcome; the
// orchestrator calls this right after Check so metrics stay attached to
// the lookup site rather than scattered through caller code.
func RecordCheck(res *CheckResult) {
	if res.Hit {
		hitsTotal.Inc()
		return
	}
	missesTotal.WithLabelValues(string(res.Reason)).Inc()
}

// GC periodically sweeps a Store's stale records and unreferenced blobs on
// a cron schedule, the way the teacher schedules its own background
// maintenance jobs with robfig/cron instead of a hand-rolled ticker loop.
type GC struct {
	store  *Store
	maxAge time.Duration
	log    *logger.Logger
	cron   *cron.Cron
}

// NewGC builds a GC that removes records older than maxAge on the given
// cron schedule (standard five-field expression).
func NewGC(store *Store, maxAge time.Duration, schedule string, log *logger.Logger) (*GC, error) {
	g := &GC{store: store, maxAge: maxAge, log: log, cron: cron.New()}
	if _, err := g.cron.AddFunc(schedule, g.run); err != nil {
		return nil, err
	}
	return g, nil
}

// Start begins running the GC in the background; callers should Stop it on
// shutdown to let an in-flight sweep finish.
func (g *GC) Start() {
	g.cron.Start()
}

// Stop halts the scheduler and blocks until any in-flight sweep completes.
func (g *GC) Stop() {
	ctx := g.cron.Stop()
	<-ctx.Done()
}

func (g *GC) run() {
	start := time.Now()
	if err := g.store.CleanOlderThan(g.maxAge); err != nil {
		g.log.WithError(err).Warn("cache gc sweep failed")
		return
	}
	gcRunsTotal.Inc()
	gcLastRun.Set(float64(time.Now().Unix()))
	g.log.WithField("duration", time.Since(start)).Debug("cache gc sweep completed")
}
