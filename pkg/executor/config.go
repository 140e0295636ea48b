package executor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MinProgressCheckIntervalMs is the hard floor spec.md §3/§4.3 impose on
// the progress-check interval.
const MinProgressCheckIntervalMs = 5000

// Config holds every recognized configuration key from spec.md §6, plus
// the AIMD watermarks spec.md §9 says must be typed configuration.
type Config struct {
	ExecutionProgressCheckIntervalMs int `yaml:"execution_progress_check_interval_ms"`
	LeaderMovementTimeoutMs          int `yaml:"leader_movement_timeout_ms"`
	DemotionHistoryRetentionMs       int `yaml:"demotion_history_retention_ms"`
	RemovalHistoryRetentionMs        int `yaml:"removal_history_retention_ms"`

	ConcurrencyAdjusterEnabled              bool                `yaml:"concurrency_adjuster_enabled"`
	ConcurrencyAdjusterIntervalMs           int                 `yaml:"concurrency_adjuster_interval_ms"`
	ConcurrencyAdjusterMaxPartitionMovementsPerBroker int       `yaml:"concurrency_adjuster_max_partition_movements_per_broker"`
	ConcurrencyAdjusterHighWatermarks        map[string]float64 `yaml:"concurrency_adjuster_high_watermarks"`
	ConcurrencyAdjusterLowWatermarks         map[string]float64 `yaml:"concurrency_adjuster_low_watermarks"`

	InitialCapInterBroker int `yaml:"initial_cap_inter_broker"`
	InitialCapIntraBroker int `yaml:"initial_cap_intra_broker"`
	InitialCapLeader      int `yaml:"initial_cap_leader"`

	FutureErrorVerificationTimeoutMs int `yaml:"future_error_verification_timeout_ms"`
	SlowTaskAlertBackoffMs           int `yaml:"slow_task_alert_backoff_ms"`

	ZookeeperSecurityEnabled bool `yaml:"zookeeper_security_enabled"`
}

// DefaultConfig returns the built-in defaults, matching spec.md §4.10 and
// §5's fixed constants and sane starting points for everything else.
func DefaultConfig() Config {
	return Config{
		ExecutionProgressCheckIntervalMs: MinProgressCheckIntervalMs,
		LeaderMovementTimeoutMs:          180_000,
		DemotionHistoryRetentionMs:       int(24 * time.Hour / time.Millisecond),
		RemovalHistoryRetentionMs:        int(24 * time.Hour / time.Millisecond),

		ConcurrencyAdjusterEnabled:                       false,
		ConcurrencyAdjusterIntervalMs:                    60_000,
		ConcurrencyAdjusterMaxPartitionMovementsPerBroker: 100,
		ConcurrencyAdjusterHighWatermarks: map[string]float64{
			"cpu_percent":              80,
			"request_queue_time_ms_p99": 500,
		},
		ConcurrencyAdjusterLowWatermarks: map[string]float64{
			"cpu_percent":              30,
			"request_queue_time_ms_p99": 50,
		},

		InitialCapInterBroker: 5,
		InitialCapIntraBroker: 5,
		InitialCapLeader:      1000,

		FutureErrorVerificationTimeoutMs: 10_000,
		SlowTaskAlertBackoffMs:           60_000,
	}
}

// Watermarks extracts the AIMD watermarks as a Watermarks value.
func (c Config) Watermarks() Watermarks {
	return Watermarks{High: c.ConcurrencyAdjusterHighWatermarks, Low: c.ConcurrencyAdjusterLowWatermarks}
}

// Validate enforces the progress-check-interval floor (spec.md §4.3). The
// watermark maps are not checked.
func (c Config) Validate() error {
	if c.ExecutionProgressCheckIntervalMs < MinProgressCheckIntervalMs {
		return NewIllegalArgumentError("config",
			fmt.Errorf("execution_progress_check_interval_ms must be >= %d, got %d",
				MinProgressCheckIntervalMs, c.ExecutionProgressCheckIntervalMs))
	}
	return nil
}

// LoadConfig reads and parses a YAML config file, merging it over
// DefaultConfig so any keys it omits keep their default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LiveConfig wraps a Config with an fsnotify watch that hot-reloads the
// AIMD watermarks and the progress-check interval on file change, per
// SPEC_FULL.md §2 item 9. Every other key still requires a new batch to
// take effect, since it governs in-flight session state.
type LiveConfig struct {
	log  *zap.Logger
	path string

	mu  sync.RWMutex
	cur Config

	watcher *fsnotify.Watcher
}

// NewLiveConfig loads path and starts watching it for changes.
func NewLiveConfig(log *zap.Logger, path string) (*LiveConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}

	lc := &LiveConfig{
		log:     log.Named("config"),
		path:    path,
		cur:     cfg,
		watcher: watcher,
	}
	go lc.watch()
	return lc, nil
}

func (lc *LiveConfig) watch() {
	for {
		select {
		case event, ok := <-lc.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := LoadConfig(lc.path)
			if err != nil {
				lc.log.Warn("failed to reload config, keeping previous", zap.Error(err))
				continue
			}
			if err := next.Validate(); err != nil {
				lc.log.Warn("reloaded config invalid, keeping previous", zap.Error(err))
				continue
			}
			lc.mu.Lock()
			lc.cur.ConcurrencyAdjusterHighWatermarks = next.ConcurrencyAdjusterHighWatermarks
			lc.cur.ConcurrencyAdjusterLowWatermarks = next.ConcurrencyAdjusterLowWatermarks
			lc.cur.ExecutionProgressCheckIntervalMs = next.ExecutionProgressCheckIntervalMs
			lc.mu.Unlock()
			lc.log.Info("reloaded config", zap.String("path", lc.path))
		case err, ok := <-lc.watcher.Errors:
			if !ok {
				return
			}
			lc.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Current returns a copy of the live-reloaded config.
func (lc *LiveConfig) Current() Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.cur
}

// Close stops the underlying fsnotify watcher.
func (lc *LiveConfig) Close() error {
	return lc.watcher.Close()
}
