package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallnest/goclaw/internal/logger"
	"go.uber.org/zap"
)

// defaultWaitTimeout is used for a run's RPC watcher when no explicit
// timeout has been configured via SetWaitTimeout.
const defaultWaitTimeout = 30 * time.Minute

// subagentRegistryVersion is the persisted schema version. v2 renamed
// announceCompletedAt/announceHandled to cleanupCompletedAt/cleanupHandled
// and collapsed requesterChannel+requesterAccountId into requesterOrigin.
const subagentRegistryVersion = 2

// Artifact is one piece of output a subagent run produced (currently always
// the final assistant text, but kept typed/open for future artifact kinds).
type Artifact struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// SubagentRunOutcome records how a subagent run ended.
type SubagentRunOutcome struct {
	Status    string     `json:"status"` // ok | error | timeout | unknown
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// SubagentRunParams are the inputs needed to register a new subagent run.
type SubagentRunParams struct {
	RunID                string
	ChildSessionKey      string
	RequesterSessionKey  string
	RequesterOrigin      *DeliveryContext
	RequesterDisplayKey  string
	Task                 string
	Label                string
	Cleanup              string // "delete" | "keep"
	ArchiveAfterMinutes  int
}

// SubagentRunRecord is the persisted record of one spawned subagent run.
type SubagentRunRecord struct {
	RunID               string               `json:"runId"`
	ChildSessionKey     string               `json:"childSessionKey"`
	RequesterSessionKey string               `json:"requesterSessionKey"`
	RequesterOrigin     *DeliveryContext     `json:"requesterOrigin,omitempty"`
	RequesterDisplayKey string               `json:"requesterDisplayKey"`
	Task                string               `json:"task"`
	Label               string               `json:"label,omitempty"`
	Cleanup             string               `json:"cleanup"` // delete | keep
	CreatedAt           int64                `json:"createdAt"`
	StartedAt           *int64               `json:"startedAt,omitempty"`
	EndedAt             *int64               `json:"endedAt,omitempty"`
	Outcome             *SubagentRunOutcome  `json:"outcome,omitempty"`
	ArchiveAtMs         *int64               `json:"archiveAtMs,omitempty"`
	CleanupHandled      bool                 `json:"cleanupHandled"`
	CleanupCompletedAt  *int64               `json:"cleanupCompletedAt,omitempty"`
}

type persistedRegistry struct {
	Version int                           `json:"version"`
	Runs    map[string]*SubagentRunRecord `json:"runs"`
}

// legacy (v1) on-disk record shape, used only to migrate old files forward.
type legacyRunRecordV1 struct {
	RunID                string              `json:"runId"`
	ChildSessionKey      string              `json:"childSessionKey"`
	RequesterSessionKey  string              `json:"requesterSessionKey"`
	RequesterChannel     string              `json:"requesterChannel,omitempty"`
	RequesterAccountID   string              `json:"requesterAccountId,omitempty"`
	RequesterDisplayKey  string              `json:"requesterDisplayKey"`
	Task                 string              `json:"task"`
	Label                string              `json:"label,omitempty"`
	Cleanup              string              `json:"cleanup"`
	CreatedAt            int64               `json:"createdAt"`
	StartedAt            *int64              `json:"startedAt,omitempty"`
	EndedAt              *int64              `json:"endedAt,omitempty"`
	Outcome              *SubagentRunOutcome `json:"outcome,omitempty"`
	ArchiveAtMs          *int64              `json:"archiveAtMs,omitempty"`
	AnnounceHandled      bool                `json:"announceHandled"`
	AnnounceCompletedAt  *int64              `json:"announceCompletedAt,omitempty"`
}

type legacyPersistedRegistryV1 struct {
	Version int                          `json:"version"`
	Runs    map[string]*legacyRunRecordV1 `json:"runs"`
}

// SubagentRegistry tracks every spawned subagent run, persisting to disk so
// it survives process restarts and resuming any watchers whose run was still
// in flight at the time of the crash.
type SubagentRegistry struct {
	mu       sync.RWMutex
	dataDir  string
	runs     map[string]*SubagentRunRecord

	onRunComplete func(runID string, record *SubagentRunRecord)

	waitForCompletion WaitFunc
	waitTimeout       time.Duration

	sweeperOnce sync.Once
	sweeperStop chan struct{}
}

// SetWaitForCompletionFunc wires the agent.wait-equivalent collaborator the
// registry calls for every registered run's RPC watcher (§4.6), racing the
// lifecycle listener through TryClaimAnnounce.
func (r *SubagentRegistry) SetWaitForCompletionFunc(fn WaitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitForCompletion = fn
}

// SetWaitTimeout overrides the per-watcher wait timeout (defaults to
// defaultWaitTimeout when unset or <= 0).
func (r *SubagentRegistry) SetWaitTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitTimeout = d
}

func (r *SubagentRegistry) effectiveWaitTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.waitTimeout > 0 {
		return r.waitTimeout
	}
	return defaultWaitTimeout
}

// startWaitWatcher launches the RPC watcher for runID (§4.6 "RPC watcher"):
// in parallel with the lifecycle listener, call agent.wait(runId, timeout);
// on a terminal ok/error status, mirror the lifecycle end logic; on anything
// else (including timeout), return without acting. Race-safety against the
// lifecycle listener comes from both paths funnelling through
// TryClaimAnnounce in the caller (AgentManager.handleSubagentCompletion).
func (r *SubagentRegistry) startWaitWatcher(runID string) {
	r.mu.RLock()
	fn := r.waitForCompletion
	r.mu.RUnlock()
	if fn == nil {
		return
	}
	timeout := r.effectiveWaitTimeout()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		status, startedAt, endedAt, err := fn(ctx, runID, timeout)
		if err != nil {
			logger.Debug("subagent wait watcher failed", zap.String("runId", runID), zap.Error(err))
			return
		}
		if status != "ok" && status != "error" {
			return // timeout (or anything else): return without acting, per §4.6
		}

		r.mu.Lock()
		rec, ok := r.runs[runID]
		if !ok {
			r.mu.Unlock()
			return
		}
		if rec.StartedAt == nil && startedAt != nil {
			rec.StartedAt = startedAt
		}
		if rec.EndedAt == nil {
			ended := time.Now().UnixMilli()
			if endedAt != nil {
				ended = *endedAt
			}
			rec.EndedAt = &ended
		}
		if rec.Outcome == nil {
			rec.Outcome = &SubagentRunOutcome{Status: status}
		}
		_ = r.saveLocked()
		r.mu.Unlock()

		r.fireOnRunComplete(runID, rec)
	}()
}

// NewSubagentRegistry creates a registry persisting under
// <dataDir>/subagents/runs.json.
func NewSubagentRegistry(dataDir string) *SubagentRegistry {
	return &SubagentRegistry{
		dataDir: dataDir,
		runs:    make(map[string]*SubagentRunRecord),
	}
}

func (r *SubagentRegistry) path() string {
	return filepath.Join(r.dataDir, "subagents", "runs.json")
}

// LoadFromDisk reads the persisted registry, migrating a v1 file forward if
// found. A missing file is not an error (fresh install).
func (r *SubagentRegistry) LoadFromDisk() error {
	path := r.path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("subagent registry: read %s: %w", path, err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("subagent registry: parse %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if probe.Version >= subagentRegistryVersion {
		var pr persistedRegistry
		if err := json.Unmarshal(data, &pr); err != nil {
			return fmt.Errorf("subagent registry: parse %s: %w", path, err)
		}
		if pr.Runs == nil {
			pr.Runs = make(map[string]*SubagentRunRecord)
		}
		r.runs = pr.Runs
		return nil
	}

	// Migrate v1 (or unversioned) records forward.
	var legacy legacyPersistedRegistryV1
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("subagent registry: parse legacy %s: %w", path, err)
	}
	migrated := make(map[string]*SubagentRunRecord, len(legacy.Runs))
	for id, old := range legacy.Runs {
		migrated[id] = &SubagentRunRecord{
			RunID:               old.RunID,
			ChildSessionKey:     old.ChildSessionKey,
			RequesterSessionKey: old.RequesterSessionKey,
			RequesterOrigin: NormalizeDeliveryContext(&DeliveryContext{
				Channel:   old.RequesterChannel,
				AccountID: old.RequesterAccountID,
			}),
			RequesterDisplayKey: old.RequesterDisplayKey,
			Task:                old.Task,
			Label:               old.Label,
			Cleanup:             old.Cleanup,
			CreatedAt:           old.CreatedAt,
			StartedAt:           old.StartedAt,
			EndedAt:             old.EndedAt,
			Outcome:             old.Outcome,
			ArchiveAtMs:         old.ArchiveAtMs,
			CleanupHandled:      old.AnnounceHandled,
			CleanupCompletedAt:  old.AnnounceCompletedAt,
		}
	}
	r.runs = migrated
	logger.Info("subagent registry migrated from v1", zap.Int("runs", len(migrated)))
	return r.saveLocked()
}

func (r *SubagentRegistry) saveLocked() error {
	dir := filepath.Dir(r.path())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("subagent registry: mkdir %s: %w", dir, err)
	}
	pr := persistedRegistry{Version: subagentRegistryVersion, Runs: r.runs}
	data, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return fmt.Errorf("subagent registry: marshal: %w", err)
	}
	tmp := r.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("subagent registry: write tmp: %w", err)
	}
	if err := os.Rename(tmp, r.path()); err != nil {
		return fmt.Errorf("subagent registry: rename: %w", err)
	}
	return nil
}

func (r *SubagentRegistry) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// SetOnRunComplete registers the callback invoked once a run's outcome has
// been recorded (whether via MarkCompleted or recovered-as-unknown on
// restart). The callback runs synchronously from whichever goroutine marks
// completion; it must not block.
func (r *SubagentRegistry) SetOnRunComplete(fn func(runID string, record *SubagentRunRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRunComplete = fn
}

// RegisterRun adds a new in-flight run to the registry and persists it.
func (r *SubagentRegistry) RegisterRun(params *SubagentRunParams) error {
	if params == nil || params.RunID == "" {
		return fmt.Errorf("subagent registry: run must have a non-empty RunID")
	}
	cleanup := params.Cleanup
	if cleanup != "delete" {
		cleanup = "keep"
	}
	now := time.Now().UnixMilli()

	r.mu.Lock()
	r.runs[params.RunID] = &SubagentRunRecord{
		RunID:               params.RunID,
		ChildSessionKey:     params.ChildSessionKey,
		RequesterSessionKey: params.RequesterSessionKey,
		RequesterOrigin:     NormalizeDeliveryContext(params.RequesterOrigin),
		RequesterDisplayKey: params.RequesterDisplayKey,
		Task:                params.Task,
		Label:               params.Label,
		Cleanup:             cleanup,
		CreatedAt:           now,
		StartedAt:           &now,
	}
	err := r.saveLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.startWaitWatcher(params.RunID)
	return nil
}

// GetRun returns the record for runID, if it exists.
func (r *SubagentRegistry) GetRun(runID string) (*SubagentRunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	return rec, ok
}

// ListRuns returns a snapshot of every known run.
func (r *SubagentRegistry) ListRuns() []*SubagentRunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SubagentRunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, rec)
	}
	return out
}

// MarkCompleted records the outcome of a run (I3: invariant is that a record
// with EndedAt set always has a non-nil Outcome). endedAt defaults to now if
// nil.
func (r *SubagentRegistry) MarkCompleted(runID string, outcome *SubagentRunOutcome, endedAt *int64) error {
	r.mu.Lock()
	rec, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("subagent registry: unknown run %q", runID)
	}
	ended := time.Now().UnixMilli()
	if endedAt != nil {
		ended = *endedAt
	}
	rec.EndedAt = &ended
	rec.Outcome = outcome
	err := r.saveLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.fireOnRunComplete(runID, rec)
	return nil
}

func (r *SubagentRegistry) fireOnRunComplete(runID string, rec *SubagentRunRecord) {
	r.mu.RLock()
	fn := r.onRunComplete
	r.mu.RUnlock()
	if fn != nil {
		fn(runID, rec)
	}
}

// markCleanupHandled atomically marks a run's announce/cleanup step done,
// returning false if it had already been handled (the at-most-once CAS that
// guards against duplicate announcements racing RPC waiters — invariant I2).
func (r *SubagentRegistry) markCleanupHandled(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok || rec.CleanupHandled {
		return false
	}
	rec.CleanupHandled = true
	_ = r.saveLocked()
	return true
}

// TryClaimAnnounce is the public at-most-once gate a caller (the announce
// flow, or an RPC wait that raced it) must win before delivering the
// announcement or archiving the run.
func (r *SubagentRegistry) TryClaimAnnounce(runID string) bool {
	return r.markCleanupHandled(runID)
}

// Cleanup is the three-way finalize step run after TryClaimAnnounce has won
// and the announce flow has attempted delivery:
//   - cleanup=="delete": the record is archived for removal by the sweeper.
//   - cleanup=="keep" and didAnnounce==false: the claim is released
//     (cleanupHandled reset to false) so the next lifecycle/RPC trigger
//     retries the announcement (invariant I3).
//   - cleanup=="keep" and didAnnounce==true: the record is left in place
//     with cleanupCompletedAt recording when it was handled.
func (r *SubagentRegistry) Cleanup(runID string, cleanup string, didAnnounce bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok {
		return
	}
	switch {
	case cleanup == "delete":
		archiveAt := time.Now().Add(1 * time.Minute).UnixMilli()
		rec.ArchiveAtMs = &archiveAt
	case !didAnnounce:
		rec.CleanupHandled = false
		rec.CleanupCompletedAt = nil
	default:
		now := time.Now().UnixMilli()
		rec.CleanupCompletedAt = &now
	}
	_ = r.saveLocked()
}

// Release removes runID from the registry entirely (used once a "delete"
// cleanup's child session has actually been deleted).
func (r *SubagentRegistry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	_ = r.saveLocked()
}

// ListForRequester returns every run registered on behalf of
// requesterSessionKey (used by cascading /stop and the /subagents list
// command).
func (r *SubagentRegistry) ListForRequester(requesterSessionKey string) []*SubagentRunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SubagentRunRecord
	for _, rec := range r.runs {
		if rec.RequesterSessionKey == requesterSessionKey {
			out = append(out, rec)
		}
	}
	return out
}

// RecoverAfterRestart resolves every restored run per §4.6 Resume: a record
// already finalised (cleanupCompletedAt set) is skipped; a record that ended
// before the restart (endedAt set) attempts beginSubagentCleanup and, if it
// wins, announces immediately with waitForCompletion=false and a 30s
// timeout (the outcome is already known, so no RPC round-trip is needed); a
// record still in flight at restart (no endedAt — no live watcher can have
// survived the process exit) gets a fresh RPC agent.wait watcher rather than
// being force-completed as unknown.
func (r *SubagentRegistry) RecoverAfterRestart() {
	r.mu.RLock()
	var resumeEnded, resumeInFlight []string
	for id, rec := range r.runs {
		if rec.CleanupCompletedAt != nil {
			continue
		}
		if rec.EndedAt != nil {
			resumeEnded = append(resumeEnded, id)
		} else {
			resumeInFlight = append(resumeInFlight, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range resumeEnded {
		if !r.TryClaimAnnounce(id) {
			continue
		}
		rec, ok := r.GetRun(id)
		if !ok {
			continue
		}
		logger.Info("subagent run resumed: ended before restart, announcing", zap.String("runId", id))
		r.fireOnRunComplete(id, rec)
	}
	for _, id := range resumeInFlight {
		logger.Info("subagent run resumed: still in flight, launching fresh watcher", zap.String("runId", id))
		r.startWaitWatcher(id)
	}
}

// StartArchiveSweeper launches a background loop that deletes archived
// ("delete"-cleanup, already-announced) runs past their ArchiveAtMs, and
// default-configured stale runs past their cfg.ArchiveAfterMinutes window.
// interval defaults to 60s.
func (r *SubagentRegistry) StartArchiveSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	r.sweeperOnce.Do(func() {
		r.sweeperStop = make(chan struct{})
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.sweepOnce()
				case <-r.sweeperStop:
					return
				}
			}
		}()
	})
}

// StopArchiveSweeper stops a previously started sweeper, if any.
func (r *SubagentRegistry) StopArchiveSweeper() {
	if r.sweeperStop != nil {
		close(r.sweeperStop)
	}
}

func (r *SubagentRegistry) sweepOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UnixMilli()
	removed := 0
	for id, rec := range r.runs {
		if rec.ArchiveAtMs != nil && now >= *rec.ArchiveAtMs {
			delete(r.runs, id)
			removed++
		}
	}
	if removed > 0 {
		_ = r.saveLocked()
		logger.Debug("subagent registry archive sweep removed runs", zap.Int("removed", removed))
	}
}
