package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *SubagentRegistry {
	t.Helper()
	return NewSubagentRegistry(t.TempDir())
}

func TestSubagentRegistry_RegisterAndGetRun(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RegisterRun(&SubagentRunParams{
		RunID:               "run-1",
		ChildSessionKey:     "agent:default:subagent:run-1",
		RequesterSessionKey: "agent:default:main",
		Task:                "do the thing",
		Cleanup:             "delete",
	}); err != nil {
		t.Fatalf("RegisterRun() error = %v", err)
	}

	rec, ok := r.GetRun("run-1")
	if !ok {
		t.Fatal("GetRun() returned ok=false for a just-registered run")
	}
	if rec.Task != "do the thing" || rec.Cleanup != "delete" {
		t.Errorf("record = %+v, want Task=%q Cleanup=%q", rec, "do the thing", "delete")
	}
	if rec.StartedAt == nil {
		t.Errorf("record.StartedAt should be set at registration")
	}
}

func TestSubagentRegistry_RegisterRunRejectsEmptyRunID(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RegisterRun(&SubagentRunParams{RunID: ""}); err == nil {
		t.Error("RegisterRun() with empty RunID should error")
	}
}

func TestSubagentRegistry_TryClaimAnnounceIsAtMostOnce(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "keep"})

	if !r.TryClaimAnnounce("run-1") {
		t.Fatal("first TryClaimAnnounce should win the claim")
	}
	if r.TryClaimAnnounce("run-1") {
		t.Error("second TryClaimAnnounce on the same run must lose the claim")
	}
}

func TestSubagentRegistry_CleanupKeepReleasesClaimWhenNotAnnounced(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "keep"})
	r.TryClaimAnnounce("run-1")

	r.Cleanup("run-1", "keep", false)

	rec, _ := r.GetRun("run-1")
	if rec.CleanupHandled {
		t.Error("Cleanup(keep, didAnnounce=false) should release the claim (CleanupHandled=false) so a retry can happen")
	}
	if !r.TryClaimAnnounce("run-1") {
		t.Error("after a released claim, TryClaimAnnounce should be claimable again")
	}
}

func TestSubagentRegistry_CleanupKeepRecordsCompletionWhenAnnounced(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "keep"})
	r.TryClaimAnnounce("run-1")

	r.Cleanup("run-1", "keep", true)

	rec, _ := r.GetRun("run-1")
	if !rec.CleanupHandled {
		t.Error("Cleanup(keep, didAnnounce=true) should leave CleanupHandled=true")
	}
	if rec.CleanupCompletedAt == nil {
		t.Error("Cleanup(keep, didAnnounce=true) should stamp CleanupCompletedAt")
	}
}

func TestSubagentRegistry_CleanupDeleteSchedulesArchive(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "delete"})
	r.TryClaimAnnounce("run-1")

	r.Cleanup("run-1", "delete", true)

	rec, _ := r.GetRun("run-1")
	if rec.ArchiveAtMs == nil {
		t.Error("Cleanup(delete, ...) should schedule ArchiveAtMs")
	}
}

func TestSubagentRegistry_RecoverAfterRestartMarksUnfinishedRunsUnknown(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "keep"})

	var completed []string
	r.SetOnRunComplete(func(runID string, record *SubagentRunRecord) {
		completed = append(completed, runID)
	})

	r.RecoverAfterRestart()

	rec, _ := r.GetRun("run-1")
	if rec.EndedAt == nil {
		t.Error("RecoverAfterRestart should set EndedAt on an unfinished run")
	}
	if rec.Outcome == nil || rec.Outcome.Status != "unknown" {
		t.Errorf("RecoverAfterRestart outcome = %+v, want Status=unknown", rec.Outcome)
	}
	if len(completed) != 1 || completed[0] != "run-1" {
		t.Errorf("RecoverAfterRestart should fire the completion callback, got %v", completed)
	}
}

func TestSubagentRegistry_RecoverAfterRestartLeavesFinishedRunsAlone(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "keep"})
	endedAt := int64(12345)
	_ = r.MarkCompleted("run-1", &SubagentRunOutcome{Status: "ok"}, &endedAt)

	r.RecoverAfterRestart()

	rec, _ := r.GetRun("run-1")
	if *rec.EndedAt != endedAt {
		t.Errorf("RecoverAfterRestart should not touch an already-completed run's EndedAt")
	}
	if rec.Outcome.Status != "ok" {
		t.Errorf("RecoverAfterRestart should not touch an already-completed run's Outcome")
	}
}

func TestSubagentRegistry_LoadFromDiskMigratesV1ToV2(t *testing.T) {
	dir := t.TempDir()
	subagentsDir := filepath.Join(dir, "subagents")
	if err := os.MkdirAll(subagentsDir, 0755); err != nil {
		t.Fatal(err)
	}

	v1 := map[string]interface{}{
		"version": 1,
		"runs": map[string]interface{}{
			"run-1": map[string]interface{}{
				"runId":               "run-1",
				"childSessionKey":     "agent:default:subagent:run-1",
				"requesterSessionKey": "agent:default:main",
				"requesterChannel":    "feishu",
				"requesterAccountId":  "acct-1",
				"task":                "legacy task",
				"cleanup":             "keep",
				"createdAt":           1000,
				"announceHandled":     true,
				"announceCompletedAt": 2000,
			},
		},
	}
	data, err := json.Marshal(v1)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(subagentsDir, "runs.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	r := NewSubagentRegistry(dir)
	if err := r.LoadFromDisk(); err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}

	rec, ok := r.GetRun("run-1")
	if !ok {
		t.Fatal("migrated run-1 should be present")
	}
	if !rec.CleanupHandled {
		t.Error("v1 announceHandled=true should migrate to cleanupHandled=true")
	}
	if rec.CleanupCompletedAt == nil || *rec.CleanupCompletedAt != 2000 {
		t.Errorf("v1 announceCompletedAt should migrate to cleanupCompletedAt, got %+v", rec.CleanupCompletedAt)
	}
	if rec.RequesterOrigin == nil || rec.RequesterOrigin.Channel != "feishu" || rec.RequesterOrigin.AccountID != "acct-1" {
		t.Errorf("v1 requesterChannel/requesterAccountId should migrate into RequesterOrigin, got %+v", rec.RequesterOrigin)
	}

	// Re-saved as v2 on disk.
	raw, err := os.ReadFile(filepath.Join(subagentsDir, "runs.json"))
	if err != nil {
		t.Fatal(err)
	}
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatal(err)
	}
	if probe.Version != subagentRegistryVersion {
		t.Errorf("migrated file version = %d, want %d", probe.Version, subagentRegistryVersion)
	}
}

func TestSubagentRegistry_LoadFromDiskMissingFileIsNotAnError(t *testing.T) {
	r := NewSubagentRegistry(t.TempDir())
	if err := r.LoadFromDisk(); err != nil {
		t.Errorf("LoadFromDisk() on a fresh install should not error, got %v", err)
	}
	if len(r.ListRuns()) != 0 {
		t.Errorf("fresh install should have zero runs")
	}
}

func TestSubagentRegistry_ListForRequester(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", RequesterSessionKey: "agent:default:main", Cleanup: "keep"})
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-2", RequesterSessionKey: "agent:default:main", Cleanup: "keep"})
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-3", RequesterSessionKey: "agent:other:main", Cleanup: "keep"})

	got := r.ListForRequester("agent:default:main")
	if len(got) != 2 {
		t.Errorf("ListForRequester() returned %d runs, want 2", len(got))
	}
}

func TestSubagentRegistry_ReleaseRemovesRun(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.RegisterRun(&SubagentRunParams{RunID: "run-1", Cleanup: "delete"})
	r.Release("run-1")
	if _, ok := r.GetRun("run-1"); ok {
		t.Error("Release() should remove the run from the registry")
	}
}
