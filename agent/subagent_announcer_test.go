package agent

import (
	"strings"
	"testing"
	"time"
)

func TestStatusLabelFor(t *testing.T) {
	tests := []struct {
		outcome *SubagentRunOutcome
		want    string
	}{
		{&SubagentRunOutcome{Status: "ok"}, "completed successfully"},
		{&SubagentRunOutcome{Status: "timeout"}, "timed out"},
		{&SubagentRunOutcome{Status: "error", Error: "boom"}, "failed: boom"},
		{&SubagentRunOutcome{Status: "error"}, "failed: unknown error"},
		{&SubagentRunOutcome{Status: "weird"}, "finished with unknown status"},
	}
	for _, tt := range tests {
		if got := statusLabelFor(tt.outcome); got != tt.want {
			t.Errorf("statusLabelFor(%+v) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestBuildTriggerMessage_DefaultsLabelToAnnounceType(t *testing.T) {
	msg := buildTriggerMessage(SubagentAnnounceTypeTask, "", "completed successfully", "done", "runtime 1s")
	if !containsAll(msg, "subagent", "completed successfully", "done", "runtime 1s", noReplySentinel) {
		t.Errorf("buildTriggerMessage() = %q, missing expected fragments", msg)
	}
}

func TestRunAnnounceFlow_DirectSendWhenNoQueue(t *testing.T) {
	var sentTo, sentMessage string
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error {
		sentTo = sessionKey
		sentMessage = message
		return nil
	})

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         "the answer is 42",
		Outcome:             &SubagentRunOutcome{Status: "ok"},
		AnnounceType:        SubagentAnnounceTypeTask,
		Label:               "research task",
	})
	if err != nil {
		t.Fatalf("RunAnnounceFlow() error = %v", err)
	}
	if sentTo != "agent:default:main" {
		t.Errorf("sent to %q, want agent:default:main", sentTo)
	}
	if !containsAll(sentMessage, "research task", "completed successfully", "the answer is 42") {
		t.Errorf("sent message = %q, missing expected fragments", sentMessage)
	}
}

func TestRunAnnounceFlow_SkipSentinelSuppressesDelivery(t *testing.T) {
	sent := false
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error {
		sent = true
		return nil
	})

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         announceSkipSentinel,
		Outcome:             &SubagentRunOutcome{Status: "ok"},
	})
	if err == nil {
		t.Fatal("RunAnnounceFlow() with ANNOUNCE_SKIP reply should report a non-announce error")
	}
	if sent {
		t.Error("ANNOUNCE_SKIP reply must suppress delivery entirely")
	}
}

func TestRunAnnounceFlow_DefersWhileChildStillActive(t *testing.T) {
	sent := false
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error {
		sent = true
		return nil
	})
	announcer.SetIsEmbeddedRunActive(func(sessionKey string) bool { return true })

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         "reply",
		Outcome:             &SubagentRunOutcome{Status: "ok"},
		WaitTimeout:         200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("RunAnnounceFlow() should report non-announce while the child run never settles")
	}
	if sent {
		t.Error("an unsettled child run must not be announced yet")
	}
}

func TestRunAnnounceFlow_EmptyReplyFallsBackToNoOutput(t *testing.T) {
	var sentMessage string
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error {
		sentMessage = message
		return nil
	})

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         "",
		Outcome:             &SubagentRunOutcome{Status: "ok"},
	})
	if err != nil {
		t.Fatalf("RunAnnounceFlow() error = %v", err)
	}
	if !containsAll(sentMessage, "(no output)") {
		t.Errorf("sent message = %q, want a (no output) placeholder", sentMessage)
	}
}

func TestRunAnnounceFlow_DeliversThroughAnnounceQueueWhenConfigured(t *testing.T) {
	var queuedVia bool
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error {
		return nil
	})
	q := NewAnnounceQueue(
		func(sessionKey string) bool { return false }, // force steer-backlog to queue, not steer
		nil,
	)
	announcer.SetAnnounceQueue(q)

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         "result",
		Outcome:             &SubagentRunOutcome{Status: "ok"},
	})
	if err != nil {
		t.Fatalf("RunAnnounceFlow() error = %v", err)
	}
	if q.Pending("agent:default:main") != 1 {
		t.Errorf("expected the announcement to land in the announce queue backlog, pending = %d", q.Pending("agent:default:main"))
	}
	queuedVia = true
	if !queuedVia {
		t.Fatal("unreachable")
	}
}

func TestRunAnnounceFlow_FinalizeDeletesSessionOnCleanupDelete(t *testing.T) {
	announcer := NewSubagentAnnouncer(func(sessionKey, message string) error { return nil })

	var deletedKey string
	announcer.SetSessionsDelete(func(sessionKey string) error {
		deletedKey = sessionKey
		return nil
	})

	err := announcer.RunAnnounceFlow(&SubagentAnnounceParams{
		ChildSessionKey:     "agent:default:subagent:run-1",
		ChildRunID:          "run-1",
		RequesterSessionKey: "agent:default:main",
		LatestReply:         "done",
		Outcome:             &SubagentRunOutcome{Status: "ok"},
		Cleanup:             "delete",
	})
	if err != nil {
		t.Fatalf("RunAnnounceFlow() error = %v", err)
	}
	if deletedKey != "agent:default:subagent:run-1" {
		t.Errorf("finalize should delete the child session on cleanup=delete, got deletedKey=%q", deletedKey)
	}
}

func TestFormatDurationCompact(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m5s"},
		{3661 * time.Second, "1h1m1s"},
		{-1 * time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := formatDurationCompact(tt.d); got != tt.want {
			t.Errorf("formatDurationCompact(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
