package process

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/goclaw/internal/logger"
	"go.uber.org/zap"
)

// CommandLane defines execution lanes for parallel processing
type CommandLane string

const (
	LaneMain       CommandLane = "main"
	LaneCron       CommandLane = "cron"
	LaneSubagent   CommandLane = "subagent"   // 与 OpenClaw CommandLane.Subagent 一致，子 agent 共用一个 lane，并发数由配置控制
	LaneAuthProbe  CommandLane = "auth-probe"
	LaneBackground CommandLane = "background"
)

// QueueEntry represents a queued task
type QueueEntry struct {
	Task        func(context.Context) (interface{}, error)
	EnqueuedAt  time.Time
	WarnAfterMs int64
	OnWait      func(waitMs int64, queuedAhead int)
	Generation  int64
	OnCleared   func()
}

// LaneState tracks the state of an execution lane
type LaneState struct {
	Lane           string
	Queue          []*QueueEntry
	Active         int
	ActiveTaskIDs  map[int]struct{}
	MaxConcurrent  int
	Draining       bool
	Generation     int64
	mu             sync.Mutex
}

// LaneClearedError is returned to a still-queued task when its lane is reset
// (ResetAllLanes) before the task got a chance to run, e.g. by a cascading
// /stop that discards everything still waiting behind a cancelled run.
type LaneClearedError struct {
	Lane string
}

func (e *LaneClearedError) Error() string {
	return fmt.Sprintf("lane %q was cleared before this task ran", e.Lane)
}

var (
	lanes      = make(map[string]*LaneState)
	lanesMu    sync.RWMutex
	nextTaskID = 1
	taskIDMu   sync.Mutex
)

// getLaneState gets or creates a lane state
func getLaneState(lane string) *LaneState {
	lanesMu.RLock()
	existing, ok := lanes[lane]
	lanesMu.RUnlock()

	if ok {
		return existing
	}

	lanesMu.Lock()
	defer lanesMu.Unlock()

	// Double-check after acquiring write lock
	if existing, ok := lanes[lane]; ok {
		return existing
	}

	created := &LaneState{
		Lane:          lane,
		Queue:         make([]*QueueEntry, 0),
		Active:        0,
		ActiveTaskIDs: make(map[int]struct{}),
		MaxConcurrent: 1,
		Draining:      false,
	}
	lanes[lane] = created
	return created
}

// getNextTaskID generates a unique task ID
func getNextTaskID() int {
	taskIDMu.Lock()
	defer taskIDMu.Unlock()
	id := nextTaskID
	nextTaskID++
	return id
}

// drainLane processes queued tasks in a lane
func drainLane(ctx context.Context, lane string) {
	state := getLaneState(lane)

	state.mu.Lock()
	if state.Draining {
		state.mu.Unlock()
		return
	}
	state.Draining = true
	state.mu.Unlock()

	pump := func() {
		for {
			state.mu.Lock()

			// Check if we can process more tasks
			if state.Active >= state.MaxConcurrent || len(state.Queue) == 0 {
				state.Draining = false
				state.mu.Unlock()
				return
			}

			// Dequeue task
			entry := state.Queue[0]
			state.Queue = state.Queue[1:]

			if entry.Generation != state.Generation {
				// This entry belonged to a generation ResetAllLanes already
				// discarded; skip it without ever running its task.
				state.mu.Unlock()
				if entry.OnCleared != nil {
					entry.OnCleared()
				}
				continue
			}

			waitedMs := time.Since(entry.EnqueuedAt).Milliseconds()
			if waitedMs >= entry.WarnAfterMs {
				if entry.OnWait != nil {
					entry.OnWait(waitedMs, len(state.Queue))
				}
				logger.Warn("Lane wait exceeded",
					zap.String("lane", lane),
					zap.Int64("waited_ms", waitedMs),
					zap.Int("queue_ahead", len(state.Queue)))
			}

			taskID := getNextTaskID()
			state.Active++
			state.ActiveTaskIDs[taskID] = struct{}{}
			queueLen := len(state.Queue)

			state.mu.Unlock()

			// Execute task in goroutine
			go func(entry *QueueEntry, taskID int) {
				startTime := time.Now()

				_, err := entry.Task(ctx)

				state.mu.Lock()
				state.Active--
				delete(state.ActiveTaskIDs, taskID)
				active := state.Active
				queued := len(state.Queue)
				state.mu.Unlock()

				durationMs := time.Since(startTime).Milliseconds()

				if err != nil {
					// Skip logging for probe lanes
					isProbeLane := strings.HasPrefix(lane, "auth-probe:") ||
						strings.HasPrefix(lane, "session:probe-")
					if !isProbeLane {
						logger.Error("Lane task error",
							zap.String("lane", lane),
							zap.Int64("duration_ms", durationMs),
							zap.Error(err))
					}
				} else {
					logger.Debug("Lane task done",
						zap.String("lane", lane),
						zap.Int64("duration_ms", durationMs),
						zap.Int("active", active),
						zap.Int("queued", queued))
				}

				// Continue draining
				drainLane(ctx, lane)
			}(entry, taskID)

			logger.Debug("Lane dequeue",
				zap.String("lane", lane),
				zap.Int64("waited_ms", waitedMs),
				zap.Int("queue_ahead", queueLen))
		}
	}

	pump()
}

// SetCommandLaneConcurrency sets the max concurrent tasks for a lane
func SetCommandLaneConcurrency(lane string, maxConcurrent int) {
	cleaned := lane
	if cleaned == "" {
		cleaned = string(LaneMain)
	}

	state := getLaneState(cleaned)
	state.mu.Lock()
	state.MaxConcurrent = max(1, maxConcurrent)
	state.mu.Unlock()

	drainLane(context.Background(), cleaned)
}

// EnqueueCommandInLane enqueues a task in a specific lane
func EnqueueCommandInLane(ctx context.Context, lane string, task func(context.Context) (interface{}, error), opts *EnqueueOptions) (interface{}, error) {
	cleaned := lane
	if cleaned == "" {
		cleaned = string(LaneMain)
	}

	warnAfterMs := int64(2000)
	if opts != nil && opts.WarnAfterMs > 0 {
		warnAfterMs = opts.WarnAfterMs
	}

	var onWait func(int64, int)
	if opts != nil {
		onWait = opts.OnWait
	}

	state := getLaneState(cleaned)

	// Create result channel
	resultChan := make(chan taskResult, 1)

	entry := &QueueEntry{
		Task: func(ctx context.Context) (interface{}, error) {
			result, err := task(ctx)
			resultChan <- taskResult{Result: result, Err: err}
			return result, err
		},
		EnqueuedAt:  time.Now(),
		WarnAfterMs: warnAfterMs,
		OnWait:      onWait,
		OnCleared: func() {
			resultChan <- taskResult{Result: nil, Err: &LaneClearedError{Lane: cleaned}}
		},
	}

	state.mu.Lock()
	entry.Generation = state.Generation
	state.Queue = append(state.Queue, entry)
	queueSize := len(state.Queue) + state.Active
	state.mu.Unlock()

	logger.Debug("Lane enqueue",
		zap.String("lane", cleaned),
		zap.Int("queue_size", queueSize))

	drainLane(ctx, cleaned)

	// Wait for result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.Result, result.Err
	}
}

// EnqueueCommand enqueues a task in the main lane
func EnqueueCommand(ctx context.Context, task func(context.Context) (interface{}, error), opts *EnqueueOptions) (interface{}, error) {
	return EnqueueCommandInLane(ctx, string(LaneMain), task, opts)
}

// EnqueueOptions configures task enqueueing
type EnqueueOptions struct {
	WarnAfterMs int64
	OnWait      func(waitMs int64, queuedAhead int)
}

type taskResult struct {
	Result interface{}
	Err    error
}

// GetQueueSize returns the queue size for a lane
func GetQueueSize(lane string) int {
	resolved := lane
	if resolved == "" {
		resolved = string(LaneMain)
	}

	lanesMu.RLock()
	state, ok := lanes[resolved]
	lanesMu.RUnlock()

	if !ok {
		return 0
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.Queue) + state.Active
}

// GetTotalQueueSize returns total queue size across all lanes
func GetTotalQueueSize() int {
	lanesMu.RLock()
	defer lanesMu.RUnlock()

	total := 0
	for _, state := range lanes {
		state.mu.Lock()
		total += len(state.Queue) + state.Active
		state.mu.Unlock()
	}
	return total
}

// ResetAllLanes increments every lane's generation, clears its active-task
// bookkeeping and draining flag, and rejects whatever was still queued with
// a LaneClearedError (invariant L1: a stale completion from a pre-reset
// generation must not disturb the state a later generation builds up).
// Already-running goroutines are not cancelled; their eventual Active--
// still lands, just against the lane's fresh bookkeeping. Used by a
// cascading /stop to discard backlog without racing the in-flight run.
func ResetAllLanes() {
	lanesMu.RLock()
	snapshot := make([]*LaneState, 0, len(lanes))
	for _, state := range lanes {
		snapshot = append(snapshot, state)
	}
	lanesMu.RUnlock()

	for _, state := range snapshot {
		state.mu.Lock()
		state.Generation++
		state.ActiveTaskIDs = make(map[int]struct{})
		state.Draining = false
		cleared := state.Queue
		state.Queue = make([]*QueueEntry, 0)
		lane := state.Lane
		state.mu.Unlock()

		for _, entry := range cleared {
			if entry.OnCleared != nil {
				entry.OnCleared()
			}
		}
		if len(state.Queue) > 0 {
			drainLane(context.Background(), lane)
		}
	}
}

// ClearCommandLane splices every queued entry out of lane and rejects each
// with a LaneClearedError, returning the count removed. Already-running
// tasks are left untouched.
func ClearCommandLane(lane string) int {
	cleaned := lane
	if cleaned == "" {
		cleaned = string(LaneMain)
	}

	lanesMu.RLock()
	state, ok := lanes[cleaned]
	lanesMu.RUnlock()

	if !ok {
		return 0
	}

	state.mu.Lock()
	cleared := state.Queue
	state.Queue = make([]*QueueEntry, 0)
	state.mu.Unlock()

	for _, entry := range cleared {
		if entry.OnCleared != nil {
			entry.OnCleared()
		}
	}
	return len(cleared)
}

// GetActiveTaskCount returns the number of actively executing tasks
func GetActiveTaskCount() int {
	lanesMu.RLock()
	defer lanesMu.RUnlock()

	total := 0
	for _, state := range lanes {
		state.mu.Lock()
		total += state.Active
		state.mu.Unlock()
	}
	return total
}

// WaitForActiveTasks waits for all active tasks to complete
func WaitForActiveTasks(ctx context.Context, timeoutMs int64) (bool, error) {
	const pollIntervalMs = 50
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	// Collect active task IDs at start
	activeAtStart := make(map[int]struct{})
	lanesMu.RLock()
	for _, state := range lanes {
		state.mu.Lock()
		for taskID := range state.ActiveTaskIDs {
			activeAtStart[taskID] = struct{}{}
		}
		state.mu.Unlock()
	}
	lanesMu.RUnlock()

	ticker := time.NewTicker(time.Duration(pollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			if len(activeAtStart) == 0 {
				return true, nil
			}

			// Check if any tasks from the start are still active
			hasPending := false
			lanesMu.RLock()
			for _, state := range lanes {
				state.mu.Lock()
				for taskID := range state.ActiveTaskIDs {
					if _, exists := activeAtStart[taskID]; exists {
						hasPending = true
						state.mu.Unlock()
						break
					}
				}
				state.mu.Unlock()
				if hasPending {
					break
				}
			}
			lanesMu.RUnlock()

			if !hasPending {
				return true, nil
			}

			if time.Now().After(deadline) {
				return false, nil
			}
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
