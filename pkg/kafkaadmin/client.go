// Package kafkaadmin is the swappable adapter binding pkg/contracts to a
// real Kafka cluster via github.com/IBM/sarama. pkg/executor never imports
// this package directly; cmd/rebalance-executor wires a *Client in wherever
// a contracts.AdminAPI/MetadataClient/CoordinationStore is expected.
package kafkaadmin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cluster-rebalance/executor/pkg/contracts"
	"go.uber.org/zap"
)

// Client implements contracts.AdminAPI, contracts.MetadataClient, and
// contracts.CoordinationStore against one live cluster.
type Client struct {
	log   *zap.Logger
	admin sarama.ClusterAdmin
	cli   sarama.Client
	guard *callGuard

	mu               sync.Mutex
	currentLeaders   map[contracts.PartitionID]int32
	pendingElections map[contracts.PartitionID]int32
}

// NewClient dials brokers with conf and wraps the resulting ClusterAdmin and
// Client in one resilience-guarded facade. Close must be called to release
// the underlying broker connections.
func NewClient(log *zap.Logger, brokers []string, conf *sarama.Config, rpcTimeout time.Duration) (*Client, error) {
	if conf == nil {
		conf = sarama.NewConfig()
	}
	cli, err := sarama.NewClient(brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("kafkaadmin: dial brokers: %w", err)
	}
	admin, err := sarama.NewClusterAdminFromClient(cli)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("kafkaadmin: admin from client: %w", err)
	}
	return &Client{
		log:              log.Named("kafkaadmin"),
		admin:            admin,
		cli:              cli,
		guard:            newCallGuard("kafka-admin", rpcTimeout),
		currentLeaders:   make(map[contracts.PartitionID]int32),
		pendingElections: make(map[contracts.PartitionID]int32),
	}, nil
}

// Close releases the ClusterAdmin and underlying Client connections.
func (c *Client) Close() error {
	if err := c.admin.Close(); err != nil {
		return err
	}
	return c.cli.Close()
}

// reassignmentFuture polls ListPartitionReassignments until the partition no
// longer appears, classifying the terminal state it observed.
type reassignmentFuture struct {
	client    *Client
	partition contracts.PartitionID
	pollEvery time.Duration
}

func (f *reassignmentFuture) Wait(ctx context.Context) (*contracts.SubmissionError, error) {
	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()
	for {
		status, err := f.client.reassignmentStatus(ctx, f.partition)
		if err != nil {
			return nil, err
		}
		if status == nil {
			return nil, nil
		}
		if status.Class != "" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) reassignmentStatus(ctx context.Context, p contracts.PartitionID) (*contracts.SubmissionError, error) {
	var result map[int32]*sarama.PartitionReplicaReassignmentsStatus
	err := c.guard.run(ctx, func() error {
		statuses, err := c.admin.ListPartitionReassignments(p.Topic, []int32{p.PartitionIndex})
		if err != nil {
			return err
		}
		result = statuses[p.Topic]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kafkaadmin: list reassignments for %s: %w", p, err)
	}
	st, ok := result[p.PartitionIndex]
	if !ok || st == nil {
		return nil, nil
	}
	if len(st.AddingReplicas) == 0 && len(st.RemovingReplicas) == 0 {
		return &contracts.SubmissionError{Partition: p, Class: contracts.ErrClassOther}, nil
	}
	return &contracts.SubmissionError{}, nil
}

// SubmitReplicaReassignments implements contracts.AdminAPI by grouping tasks
// per topic and calling AlterPartitionReassignments once per topic, matching
// the wire shape sarama exposes (one call takes every partition of a topic
// at once).
func (c *Client) SubmitReplicaReassignments(ctx context.Context, tasks []contracts.ReassignmentTask) (map[contracts.PartitionID]*contracts.ReassignmentFuture, error) {
	byTopic := make(map[string]map[int32][]int32)
	for _, t := range tasks {
		if byTopic[t.Partition.Topic] == nil {
			byTopic[t.Partition.Topic] = make(map[int32][]int32)
		}
		byTopic[t.Partition.Topic][t.Partition.PartitionIndex] = t.TargetReplicas
	}

	futures := make(map[contracts.PartitionID]*contracts.ReassignmentFuture, len(tasks))
	var firstErr error
	for topic, partitions := range byTopic {
		maxIdx := int32(-1)
		for idx := range partitions {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		assignment := make([][]int32, maxIdx+1)
		for idx, replicas := range partitions {
			assignment[idx] = replicas
		}

		err := c.guard.run(ctx, func() error {
			return c.admin.AlterPartitionReassignments(topic, assignment)
		})
		for idx := range partitions {
			pid := contracts.PartitionID{Topic: topic, PartitionIndex: idx}
			var fut contracts.ReassignmentFuture = &reassignmentFuture{client: c, partition: pid, pollEvery: time.Second}
			futures[pid] = &fut
			if err != nil {
				c.log.Warn("alter partition reassignments failed", zap.String("topic", topic), zap.Error(err))
			}
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kafkaadmin: alter reassignments for topic %s: %w", topic, err)
		}
	}
	return futures, firstErr
}

// ListOngoingReassignments implements contracts.AdminAPI.
func (c *Client) ListOngoingReassignments(ctx context.Context) (map[contracts.PartitionID]bool, error) {
	var topics map[string]sarama.TopicDetail
	err := c.guard.run(ctx, func() error {
		var listErr error
		topics, listErr = c.admin.ListTopics()
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("kafkaadmin: list topics: %w", err)
	}

	result := make(map[contracts.PartitionID]bool)
	for topic := range topics {
		var statuses map[int32]*sarama.PartitionReplicaReassignmentsStatus
		err := c.guard.run(ctx, func() error {
			byTopic, listErr := c.admin.ListPartitionReassignments(topic, nil)
			if listErr != nil {
				return listErr
			}
			statuses = byTopic[topic]
			return nil
		})
		if err != nil {
			c.log.Warn("list partition reassignments failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		for idx, st := range statuses {
			if st == nil {
				continue
			}
			if len(st.AddingReplicas) > 0 || len(st.RemovingReplicas) > 0 {
				result[contracts.PartitionID{Topic: topic, PartitionIndex: idx}] = true
			}
		}
	}
	return result, nil
}

// DescribeLogDirs implements contracts.AdminAPI, translating sarama's
// per-broker directory report into the ReplicaAssignment shape the
// Supervisor Loop's intra-broker and future-dir checks expect.
func (c *Client) DescribeLogDirs(ctx context.Context, brokerIDs []int32) ([]contracts.LogDirInfo, error) {
	var raw map[int32][]sarama.DescribeLogDirsResponseDirMetadata
	err := c.guard.run(ctx, func() error {
		var describeErr error
		raw, describeErr = c.admin.DescribeLogDirs(brokerIDs)
		return describeErr
	})
	if err != nil {
		return nil, fmt.Errorf("kafkaadmin: describe log dirs: %w", err)
	}

	out := make([]contracts.LogDirInfo, 0, len(raw))
	for brokerID, dirs := range raw {
		info := contracts.LogDirInfo{BrokerID: brokerID, Replicas: make(map[contracts.PartitionID]contracts.ReplicaAssignment)}
		for _, dir := range dirs {
			for _, topic := range dir.Topics {
				for _, part := range topic.Partitions {
					pid := contracts.PartitionID{Topic: topic.Topic, PartitionIndex: part.PartitionID}
					ra := contracts.ReplicaAssignment{BrokerID: brokerID, CurrentDir: dir.Path}
					if part.IsFuture {
						ra.FutureDir = dir.Path
						if existing, ok := info.Replicas[pid]; ok {
							existing.FutureDir = dir.Path
							info.Replicas[pid] = existing
							continue
						}
					}
					if existing, ok := info.Replicas[pid]; ok && !part.IsFuture {
						existing.CurrentDir = dir.Path
						info.Replicas[pid] = existing
						continue
					}
					info.Replicas[pid] = ra
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// CancelReassignments implements contracts.AdminAPI by resubmitting each
// partition's current replica set, which is how Kafka's AlterPartitionReassignments
// API reverts an in-flight move (spec.md §4.8).
func (c *Client) CancelReassignments(ctx context.Context, tasks []contracts.ReassignmentTask) error {
	_, err := c.SubmitReplicaReassignments(ctx, tasks)
	return err
}

// Refresh implements contracts.MetadataClient by refreshing sarama's cached
// metadata and assembling a ClusterSnapshot from it.
func (c *Client) Refresh(ctx context.Context) (contracts.ClusterSnapshot, error) {
	if err := c.guard.run(ctx, func() error {
		return c.cli.RefreshMetadata()
	}); err != nil {
		return contracts.ClusterSnapshot{}, fmt.Errorf("kafkaadmin: refresh metadata: %w", err)
	}

	liveNodes := make(map[int32]bool)
	for _, b := range c.cli.Brokers() {
		liveNodes[b.ID()] = true
	}

	topics, err := c.cli.Topics()
	if err != nil {
		return contracts.ClusterSnapshot{}, fmt.Errorf("kafkaadmin: list topics: %w", err)
	}

	partitions := make(map[contracts.PartitionID]contracts.PartitionState)
	currentLeaders := make(map[contracts.PartitionID]int32)
	for _, topic := range topics {
		partIDs, err := c.cli.Partitions(topic)
		if err != nil {
			c.log.Warn("partitions lookup failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		for _, idx := range partIDs {
			pid := contracts.PartitionID{Topic: topic, PartitionIndex: idx}
			replicas, err := c.cli.Replicas(topic, idx)
			if err != nil {
				continue
			}
			isr, err := c.cli.InSyncReplicas(topic, idx)
			if err != nil {
				isr = nil
			}
			leaderBroker, err := c.cli.Leader(topic, idx)
			var leader int32 = -1
			if err == nil && leaderBroker != nil {
				leader = leaderBroker.ID()
			}
			partitions[pid] = contracts.PartitionState{
				ID:       pid,
				Replicas: replicas,
				ISR:      isr,
				Leader:   leader,
				Exists:   true,
			}
			currentLeaders[pid] = leader
		}
	}

	c.mu.Lock()
	c.currentLeaders = currentLeaders
	for pid, target := range c.pendingElections {
		if currentLeaders[pid] == target {
			delete(c.pendingElections, pid)
		}
	}
	c.mu.Unlock()

	return contracts.ClusterSnapshot{
		FetchedAt:  time.Now(),
		LiveNodes:  liveNodes,
		Partitions: partitions,
	}, nil
}

// TriggerPreferredLeaderElection implements contracts.CoordinationStore via
// sarama's ElectLeaders RPC with the preferred-leader election type.
func (c *Client) TriggerPreferredLeaderElection(ctx context.Context, tasks []contracts.LeaderTask) error {
	byTopic := make(map[string][]int32)
	c.mu.Lock()
	for _, t := range tasks {
		byTopic[t.Partition.Topic] = append(byTopic[t.Partition.Topic], t.Partition.PartitionIndex)
		c.pendingElections[t.Partition] = t.TargetLeader
	}
	c.mu.Unlock()
	return c.guard.run(ctx, func() error {
		_, err := c.admin.ElectLeaders(sarama.PreferredElection, byTopic)
		return err
	})
}

// ListOngoingPreferredLeaderElections approximates "is an election running"
// by tracking the target leader recorded at TriggerPreferredLeaderElection
// and clearing it once a later Refresh observes the partition's current
// leader matches that target. Sarama exposes no direct "election in
// progress" RPC, so this is an approximation of cluster state, not an exact
// read (SPEC_FULL.md §4.13).
func (c *Client) ListOngoingPreferredLeaderElections(ctx context.Context) (map[contracts.PartitionID]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[contracts.PartitionID]bool, len(c.pendingElections))
	for pid := range c.pendingElections {
		result[pid] = true
	}
	return result, nil
}

// DeleteReassignmentMarkers forces the cluster to abandon every in-flight
// reassignment, used only on forced stop (spec.md §4.8). Sarama has no
// single "abandon everything" RPC, so this lists every partition with an
// active AlterPartitionReassignments entry and resubmits each to its own
// current replica set, the same revert mechanism CancelReassignments uses.
func (c *Client) DeleteReassignmentMarkers(ctx context.Context) error {
	ongoing, err := c.ListOngoingReassignments(ctx)
	if err != nil {
		return fmt.Errorf("kafkaadmin: list ongoing reassignments for forced stop: %w", err)
	}
	if len(ongoing) == 0 {
		return nil
	}

	tasks := make([]contracts.ReassignmentTask, 0, len(ongoing))
	for pid := range ongoing {
		replicas, err := c.cli.Replicas(pid.Topic, pid.PartitionIndex)
		if err != nil {
			c.log.Warn("replicas lookup failed during forced-stop revert", zap.Stringer("partition", pid), zap.Error(err))
			continue
		}
		tasks = append(tasks, contracts.ReassignmentTask{Partition: pid, TargetReplicas: replicas})
	}
	return c.CancelReassignments(ctx, tasks)
}

var _ contracts.AdminAPI = (*Client)(nil)
var _ contracts.MetadataClient = (*Client)(nil)
var _ contracts.CoordinationStore = (*Client)(nil)
