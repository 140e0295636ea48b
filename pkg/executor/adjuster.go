package executor

import (
	"context"
	"time"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"go.uber.org/zap"
)

// Watermarks names the per-metric thresholds the AIMD adjuster watches.
// Kept as typed configuration rather than inlined constants, per spec.md
// §4.4/§9's explicit instruction that the watermarks are an operator
// tunable the implementer must expose.
type Watermarks struct {
	High map[string]float64
	Low  map[string]float64
}

// recommendation is the AIMD adjuster's verdict for one tick.
type recommendation int

const (
	noRecommendation recommendation = iota
	decreaseCap
	increaseCap
)

// recommendedConcurrency implements the strict AIMD contract of spec.md
// §4.4: multiplicative decrease if any broker crosses a high watermark on
// any monitored metric, additive increase only if every broker is below
// every low watermark, otherwise no change.
func recommendedConcurrency(values map[int32]contracts.BrokerMetricValues, wm Watermarks) recommendation {
	anyHigh := false
	allLow := true

	for _, metrics := range values {
		for name, v := range metrics {
			if hw, ok := wm.High[name]; ok && v >= hw {
				anyHigh = true
			}
			if lw, ok := wm.Low[name]; ok && v >= lw {
				allLow = false
			}
		}
	}

	switch {
	case anyHigh:
		return decreaseCap
	case allLow:
		return increaseCap
	default:
		return noRecommendation
	}
}

// Adjuster is the periodic AIMD controller that tunes the inter-broker cap
// from live broker metrics (spec.md §4.4). It only acts while the phase is
// INTER_BROKER_IN_PROGRESS, auto-adjust is enabled, and a load monitor is
// configured; it never runs for demote operations.
type Adjuster struct {
	log *zap.Logger

	tracker      *Tracker
	loadMonitor  contracts.LoadMonitor
	watermarks   func() Watermarks
	maxPerBroker int

	phase        func() Phase
	skipAuto     func() bool
	onCapChanged func(oldCap, newCap int)
}

// NewAdjuster constructs an Adjuster. phase, skipAuto, and watermarks are
// callbacks into live Controller state (spec.md §9's "interface view"
// pattern, used here to avoid a direct dependency cycle on Controller, and
// to let watermarks track a hot-reloaded config without the Adjuster ever
// holding a stale copy).
func NewAdjuster(
	log *zap.Logger,
	tracker *Tracker,
	loadMonitor contracts.LoadMonitor,
	watermarks func() Watermarks,
	maxPerBroker int,
	phase func() Phase,
	skipAuto func() bool,
	onCapChanged func(oldCap, newCap int),
) *Adjuster {
	return &Adjuster{
		log:          log.Named("adjuster"),
		tracker:      tracker,
		loadMonitor:  loadMonitor,
		watermarks:   watermarks,
		maxPerBroker: maxPerBroker,
		phase:        phase,
		skipAuto:     skipAuto,
		onCapChanged: onCapChanged,
	}
}

// Tick runs one AIMD evaluation. Called by Run on its own timer; exported
// separately so tests can drive it deterministically.
func (a *Adjuster) Tick(ctx context.Context) {
	if a.phase() != InterBrokerInProgress {
		return
	}
	if a.skipAuto() {
		return
	}
	if a.loadMonitor == nil {
		return
	}

	values, err := a.loadMonitor.CurrentBrokerMetricValues(ctx)
	if err != nil {
		a.log.Warn("failed to read broker metrics", zap.Error(err))
		return
	}

	rec := recommendedConcurrency(values, a.watermarks())
	cur := a.tracker.CapInter()

	var next int
	switch rec {
	case decreaseCap:
		next = cur / 2
		if next < 1 {
			next = 1
		}
	case increaseCap:
		next = cur + 1
		if next > a.maxPerBroker {
			next = a.maxPerBroker
		}
	default:
		return
	}

	if next == cur {
		return
	}
	a.tracker.SetCapInter(next)
	a.log.Info("adjusted inter-broker cap", zap.Int("old", cur), zap.Int("new", next))
	if a.onCapChanged != nil {
		a.onCapChanged(cur, next)
	}
}

// Run drives Tick on intervalMs cadence until ctx is cancelled.
func (a *Adjuster) Run(ctx context.Context, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}
