package executor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Controller is the thread-safe public surface (spec.md §4.3): lifecycle
// transitions, parameter setters, stop/force-stop, and state query. It owns
// the single worker that runs the Supervisor Loop for one batch at a time,
// plus the Adjuster and History-sweeper background workers.
type Controller struct {
	log *zap.Logger

	cfg *LiveConfig

	tracker         *Tracker
	demotionHistory *History
	removalHistory  *History
	session         *session
	adjuster        *Adjuster
	supervisor      *Supervisor
	metrics         *Metrics

	closers []io.Closer

	// mu serializes the control-plane operations spec.md §4.3 requires to be
	// mutually exclusive: beginProposing, failProposing, execute*. Stop does
	// not take mu; it is serialized by the session's own lock.
	mu                   sync.Mutex
	shuttingDown         bool
	pendingUUID          string
	pendingReason        func() string
	pendingUserTriggered bool

	bgCancel context.CancelFunc
	bgGroup  *errgroup.Group

	workerWG sync.WaitGroup

	adjusterOn atomic.Bool
}

// NewController wires every component together: the Tracker, both History
// stores, the session, the Adjuster, and the Supervisor Loop, against the
// external collaborators the caller provides. Any contracts.* argument may
// be nil per the same rules as NewSupervisor, except admin, metadata, and
// coord, which are required for the preflight checks and phase loop to run
// at all. A nil loadMonitor is accepted here, but Execute and ExecuteDemote
// then reject every batch with IllegalArgument.
func NewController(
	log *zap.Logger,
	cfg *LiveConfig,
	admin contracts.AdminAPI,
	metadata contracts.MetadataClient,
	coord contracts.CoordinationStore,
	loadMonitor contracts.LoadMonitor,
	throttle contracts.ThrottleHelper,
	notifier contracts.Notifier,
	anomaly contracts.AnomalyDetector,
	userTasks contracts.UserTaskManager,
	metrics *Metrics,
	clock contracts.Clock,
	closers ...io.Closer,
) (*Controller, error) {
	if admin == nil || metadata == nil || coord == nil {
		return nil, NewIllegalArgumentError("controller",
			fmt.Errorf("admin, metadata, and coord collaborators are required"))
	}

	cur := cfg.Current()
	if err := cur.Validate(); err != nil {
		return nil, err
	}

	tracker := NewTracker(log, cur.InitialCapInterBroker, cur.InitialCapIntraBroker, cur.InitialCapLeader)
	demotionHistory := NewHistory(log, "demotion", time.Duration(cur.DemotionHistoryRetentionMs)*time.Millisecond)
	removalHistory := NewHistory(log, "removal", time.Duration(cur.RemovalHistoryRetentionMs)*time.Millisecond)
	sess := newSession(cur.ExecutionProgressCheckIntervalMs)

	c := &Controller{
		log:             log.Named("controller"),
		cfg:             cfg,
		tracker:         tracker,
		demotionHistory: demotionHistory,
		removalHistory:  removalHistory,
		session:         sess,
		metrics:         metrics,
		closers:         closers,
	}

	c.adjusterOn.Store(cur.ConcurrencyAdjusterEnabled)
	c.adjuster = NewAdjuster(
		log, tracker, loadMonitor, func() Watermarks { return cfg.Current().Watermarks() }, cur.ConcurrencyAdjusterMaxPartitionMovementsPerBroker,
		func() Phase { return sess.Snapshot().Phase },
		func() bool { return sess.SkipAutoConcurrency() || !c.adjusterOn.Load() },
		func(oldCap, newCap int) {},
	)

	c.supervisor = NewSupervisor(
		log, tracker, demotionHistory, removalHistory,
		admin, metadata, coord, loadMonitor, throttle, notifier, anomaly, userTasks,
		sess, metrics, cfg.Current, DefaultOrdering, clock,
	)

	bgCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(bgCtx)
	c.bgCancel = cancel
	c.bgGroup = g

	g.Go(func() error { c.adjuster.Run(gctx, cur.ConcurrencyAdjusterIntervalMs); return nil })
	g.Go(func() error { runSweepLoop(gctx, demotionHistory, time.Duration(cur.DemotionHistoryRetentionMs)*time.Millisecond); return nil })
	g.Go(func() error { runSweepLoop(gctx, removalHistory, time.Duration(cur.RemovalHistoryRetentionMs)*time.Millisecond); return nil })

	return c, nil
}

// runSweepLoop drives History.Sweep on a cadence derived from its own
// retention window, halved so an entry is never more than half a retention
// period stale when removed.
func runSweepLoop(ctx context.Context, h *History, retention time.Duration) {
	interval := retention / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(time.Now())
		}
	}
}

// BeginProposing attempts the NO_TASK->PROPOSING transition (spec.md §4.3).
func (c *Controller) BeginProposing(uuid string, reasonProvider func() string, userTriggered bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown {
		return NewIllegalStateError("controller", fmt.Errorf("controller is shutting down"))
	}
	if !c.session.beginIfNoTask(uuid) {
		return NewOngoingExecutionError("controller", fmt.Errorf("a batch is already in progress"))
	}
	c.pendingUUID = uuid
	c.pendingReason = reasonProvider
	c.pendingUserTriggered = userTriggered
	return nil
}

// FailProposing reverts PROPOSING->NO_TASK. A uuid mismatch is a silent
// no-op (logged) per spec.md §4.3.
func (c *Controller) FailProposing(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.session.uuidMatches(uuid) {
		c.log.Warn("failProposing uuid mismatch, ignoring", zap.String("uuid", uuid))
		return
	}
	c.session.reset()
	c.pendingUUID = ""
	c.pendingReason = nil
}

// Execute validates PROPOSING->STARTING and launches the Supervisor Loop on
// its own goroutine for a balancing (non-demote) batch.
func (c *Controller) Execute(ctx context.Context, proposals []*Proposal, exemptBrokers []int32, uuid string, mode ExecutionMode) error {
	return c.execute(ctx, proposals, nil, exemptBrokers, uuid, mode)
}

// ExecuteDemote is Execute plus recording demotion-history starts and
// disabling the auto concurrency adjuster for the batch's duration (spec.md
// §4.3, §4.4).
func (c *Controller) ExecuteDemote(ctx context.Context, proposals []*Proposal, demotedBrokers, exemptBrokers []int32, uuid string, mode ExecutionMode) error {
	return c.execute(ctx, proposals, demotedBrokers, exemptBrokers, uuid, mode)
}

func (c *Controller) execute(ctx context.Context, proposals []*Proposal, demotedBrokers, exemptBrokers []int32, uuid string, mode ExecutionMode) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return NewIllegalStateError("controller", fmt.Errorf("controller is shutting down"))
	}
	if !c.session.uuidMatches(uuid) {
		c.mu.Unlock()
		return NewIllegalStateError("controller", fmt.Errorf("uuid %s does not match the proposing batch", uuid))
	}
	if c.supervisor.loadMonitor == nil {
		c.mu.Unlock()
		return NewIllegalArgumentError("controller", fmt.Errorf("a load monitor is required to execute a batch"))
	}
	reason := c.pendingReason
	userTriggered := c.pendingUserTriggered
	c.mu.Unlock()

	if err := c.supervisor.Preflight(ctx); err != nil {
		c.mu.Lock()
		c.session.reset()
		c.pendingUUID = ""
		c.pendingReason = nil
		c.mu.Unlock()
		return err
	}

	snap := c.session.Snapshot()
	snap.Phase = Starting
	snap.UUID = uuid
	if reason != nil {
		snap.Reason = reason()
	}
	snap.FetchedAt = time.Now()
	c.session.PublishSnapshot(snap)

	c.workerWG.Add(1)
	go func() {
		defer c.workerWG.Done()
		c.supervisor.Run(context.Background(), BatchRequest{
			UUID:           uuid,
			Proposals:      proposals,
			DemotedBrokers: demotedBrokers,
			ExemptBrokers:  exemptBrokers,
			UserTriggered:  userTriggered,
			Mode:           mode,
			ReasonProvider: reason,
		})
	}()

	return nil
}

// Stop escalates the stop signal (spec.md §4.3). Returns false if already
// stopping at or above the requested level.
func (c *Controller) Stop(force bool, byUser bool) bool {
	ok := c.session.RequestStop(force)
	if ok && byUser {
		c.session.markStoppedByUser()
	}
	return ok
}

// SetConcurrencyAdjuster toggles the AIMD adjuster. Only INTER_BROKER_REPLICA
// is a supported type; any other returns UnsupportedType (spec.md §4.3).
func (c *Controller) SetConcurrencyAdjuster(taskType TaskType, enabled bool) error {
	if taskType != InterBrokerReplica {
		return NewUnsupportedTypeError("controller",
			fmt.Errorf("concurrency adjuster is only supported for %s", InterBrokerReplica))
	}
	c.adjusterOn.Store(enabled)
	return nil
}

func (c *Controller) SetCapInter(n int)  { c.tracker.SetCapInter(n) }
func (c *Controller) SetCapIntra(n int)  { c.tracker.SetCapIntra(n) }
func (c *Controller) SetCapLeader(n int) { c.tracker.SetCapLeader(n) }

// SetProgressIntervalMs sets the poll interval. A nil ms falls back to the
// live config's configured default (spec.md §8 scenario 6).
func (c *Controller) SetProgressIntervalMs(ms *int) error {
	if ms == nil {
		c.session.clearProgressIntervalOverride(c.cfg.Current().ExecutionProgressCheckIntervalMs)
		return nil
	}
	return c.session.SetProgressIntervalMs(*ms)
}

// Snapshot returns the current Status Snapshot.
func (c *Controller) Snapshot() Snapshot {
	return c.session.Snapshot()
}

// Shutdown stops accepting new batches, waits (unbounded) for any in-flight
// batch to drain, then stops the background workers and closes every
// registered external client (spec.md §4.3, §4.6 "Shutdown").
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return nil
	}
	c.shuttingDown = true
	hasOngoing := c.session.uuidMatches(c.session.currentUUID())
	c.mu.Unlock()

	if hasOngoing {
		c.Stop(true, false)
	}
	c.workerWG.Wait()

	c.bgCancel()
	_ = c.bgGroup.Wait()

	if c.cfg != nil {
		_ = c.cfg.Close()
	}

	var firstErr error
	for _, cl := range c.closers {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
