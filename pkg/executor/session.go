package executor

import (
	"sync"
	"sync/atomic"
)

// StopSignal is the monotonic stop escalation spec.md §5 requires: values
// only increase (NONE < GRACEFUL < FORCED), and FORCED always wins over a
// pending GRACEFUL.
type StopSignal int32

const (
	StopNone StopSignal = iota
	StopGraceful
	StopForced
)

func (s StopSignal) String() string {
	switch s {
	case StopGraceful:
		return "GRACEFUL"
	case StopForced:
		return "FORCED"
	default:
		return "NONE"
	}
}

// ExecutionMode is informational only (spec.md §3): whether the batch came
// from the balancing-only path or the full-assigner path.
type ExecutionMode int

const (
	BalancingOnly ExecutionMode = iota
	FullAssigner
)

// sessionView is the narrow handle the Supervisor Loop is given into the
// Controller's process-wide session state: snapshot publish/read, the stop
// signal, and the progress-check interval. This breaks the Supervisor ->
// Controller -> Supervisor reference cycle the design notes call out
// (spec.md §9): the Supervisor depends on an interface, not the concrete
// Controller.
type sessionView interface {
	Snapshot() Snapshot
	PublishSnapshot(Snapshot)
	StopSignal() StopSignal
	RequestStop(force bool) bool
	ProgressIntervalMs() int
	ProgressIntervalOverridden() bool
	SkipAutoConcurrency() bool
	SetSkipAutoConcurrency(bool)
	wasStoppedByUser() bool
	reset()
}

// session is the process-wide (single-batch) state spec.md §3 calls
// "Session state". Exactly one session is live per Controller; reset clears
// its per-batch fields between batches, while the progress-check interval
// and its override persist.
type session struct {
	snapshot atomic.Pointer[Snapshot]

	mu                      sync.Mutex
	stopSignal              StopSignal
	stoppedByUser           bool
	hasOngoing              bool
	uuid                    string
	executionMode           ExecutionMode
	skipAutoConcurrency     bool
	progressCheckIntervalMs int
	// progressIntervalOverridden is true once an operator has explicitly
	// set the interval (spec.md §8 scenario 6). While false, the
	// Supervisor tracks the live-reloaded config value instead of this
	// field (spec.md §9's hot-reload of execution_progress_check_interval_ms).
	progressIntervalOverridden bool
}

func newSession(defaultIntervalMs int) *session {
	s := &session{progressCheckIntervalMs: defaultIntervalMs}
	snap := emptySnapshot()
	s.snapshot.Store(&snap)
	return s
}

func (s *session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

func (s *session) PublishSnapshot(snap Snapshot) {
	s.snapshot.Store(&snap)
}

func (s *session) StopSignal() StopSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopSignal
}

// RequestStop escalates the stop signal to at least the requested level.
// Returns false if the signal was already at or above that level (spec.md
// §4.3: "returns false if already stopping equal-or-harder").
func (s *session) RequestStop(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := StopGraceful
	if force {
		want = StopForced
	}
	if s.stopSignal >= want {
		return false
	}
	s.stopSignal = want
	return true
}

func (s *session) ProgressIntervalMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressCheckIntervalMs
}

func (s *session) SetProgressIntervalMs(ms int) error {
	if ms < MinProgressCheckIntervalMs {
		return NewIllegalArgumentError("session", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressCheckIntervalMs = ms
	s.progressIntervalOverridden = true
	return nil
}

// ProgressIntervalOverridden reports whether an operator override is active.
func (s *session) ProgressIntervalOverridden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressIntervalOverridden
}

// clearProgressIntervalOverride reverts to tracking the live config value,
// storing ms (the config's current value) so ProgressIntervalMs still
// reflects it until the next reload (spec.md §8 scenario 6's nil-ms path).
func (s *session) clearProgressIntervalOverride(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressCheckIntervalMs = ms
	s.progressIntervalOverridden = false
}

func (s *session) SkipAutoConcurrency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipAutoConcurrency
}

func (s *session) SetSkipAutoConcurrency(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipAutoConcurrency = v
}

// beginIfNoTask attempts NO_TASK->PROPOSING, returning false if a batch is
// already ongoing (spec.md §4.3).
func (s *session) beginIfNoTask(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasOngoing {
		return false
	}
	s.hasOngoing = true
	s.uuid = uuid
	s.stopSignal = StopNone
	s.stoppedByUser = false
	return true
}

// uuidMatches reports whether uuid is the current batch's uuid.
func (s *session) uuidMatches(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOngoing && s.uuid == uuid
}

// currentUUID returns the active batch's uuid, or "" if none.
func (s *session) currentUUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uuid
}

// markStoppedByUser records that the active stop was user-initiated.
func (s *session) markStoppedByUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppedByUser = true
}

func (s *session) wasStoppedByUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedByUser
}

// reset returns the session to NO_TASK, clearing uuid and stop signal
// (spec.md §7 cleanup-on-exit).
func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasOngoing = false
	s.uuid = ""
	s.stopSignal = StopNone
	s.stoppedByUser = false
	s.skipAutoConcurrency = false
}
