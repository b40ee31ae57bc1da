package agent

import (
	"testing"
)

func TestCanonicalParentKey(t *testing.T) {
	tests := []struct {
		name              string
		sessionKey        string
		configuredMainKey string
		expected          string
	}{
		{"empty stays empty", "", "agent:default:main", ""},
		{"global passthrough", "global", "agent:default:main", "global"},
		{"unknown passthrough", "unknown", "agent:default:main", "unknown"},
		{"main resolves to configured", "main", "agent:default:main", "agent:default:main"},
		{"main with no configured key falls back to main", "main", "", "main"},
		{"agent key passthrough", "agent:default:subagent:abc", "agent:default:main", "agent:default:subagent:abc"},
		{"bare key passthrough", "some-bare-key", "agent:default:main", "some-bare-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalParentKey(tt.sessionKey, tt.configuredMainKey)
			if got != tt.expected {
				t.Errorf("CanonicalParentKey(%q, %q) = %q, want %q", tt.sessionKey, tt.configuredMainKey, got, tt.expected)
			}
		})
	}
}

func TestAnnounceQueue_CollectModesAlwaysQueue(t *testing.T) {
	q := NewAnnounceQueue(nil, nil)

	modes := []AnnounceMode{AnnounceModeCollect, AnnounceModeFollowUp, AnnounceModeInterrupt}
	for _, mode := range modes {
		item := &AnnounceItem{SessionKey: "agent:default:main", Prompt: "p"}
		result := q.Enqueue(mode, item)
		if result != AnnounceQueued {
			t.Errorf("mode %v: Enqueue() = %v, want %v", mode, result, AnnounceQueued)
		}
	}
	if got := q.Pending("agent:default:main"); got != len(modes) {
		t.Errorf("Pending() = %d, want %d", got, len(modes))
	}
}

func TestAnnounceQueue_SteerDeliversWhenActive(t *testing.T) {
	steered := ""
	q := NewAnnounceQueue(
		func(sessionKey string) bool { return sessionKey == "live" },
		func(sessionKey, prompt string) bool { steered = prompt; return true },
	)

	result := q.Enqueue(AnnounceModeSteer, &AnnounceItem{SessionKey: "live", Prompt: "hello"})
	if result != AnnounceDelivered {
		t.Fatalf("Enqueue() = %v, want %v", result, AnnounceDelivered)
	}
	if steered != "hello" {
		t.Errorf("steer prompt = %q, want %q", steered, "hello")
	}
	if q.Pending("live") != 0 {
		t.Errorf("steer should not leave a pending backlog entry")
	}
}

func TestAnnounceQueue_SteerFallsBackToNoneWhenInactive(t *testing.T) {
	q := NewAnnounceQueue(
		func(sessionKey string) bool { return false },
		func(sessionKey, prompt string) bool { return true },
	)

	result := q.Enqueue(AnnounceModeSteer, &AnnounceItem{SessionKey: "idle", Prompt: "hello"})
	if result != AnnounceNone {
		t.Fatalf("Enqueue() = %v, want %v", result, AnnounceNone)
	}
	if q.Pending("idle") != 0 {
		t.Errorf("steer-only mode must not enqueue a backlog entry on failure")
	}
}

func TestAnnounceQueue_SteerBacklogQueuesOnFailure(t *testing.T) {
	q := NewAnnounceQueue(
		func(sessionKey string) bool { return false },
		nil,
	)

	result := q.Enqueue(AnnounceModeSteerBacklog, &AnnounceItem{SessionKey: "idle", Prompt: "hello"})
	if result != AnnounceQueued {
		t.Fatalf("Enqueue() = %v, want %v", result, AnnounceQueued)
	}
	if q.Pending("idle") != 1 {
		t.Errorf("Pending() = %d, want 1", q.Pending("idle"))
	}
}

func TestAnnounceQueue_FlushDeliversFIFOAndDrains(t *testing.T) {
	q := NewAnnounceQueue(nil, nil)
	var delivered []string

	for _, p := range []string{"first", "second", "third"} {
		q.Enqueue(AnnounceModeCollect, &AnnounceItem{
			SessionKey: "k",
			Prompt:     p,
			Send: func(origin *DeliveryContext, prompt string) error {
				delivered = append(delivered, prompt)
				return nil
			},
		})
	}

	q.Flush("k")

	if len(delivered) != 3 || delivered[0] != "first" || delivered[1] != "second" || delivered[2] != "third" {
		t.Errorf("Flush delivered = %v, want FIFO order [first second third]", delivered)
	}
	if q.Pending("k") != 0 {
		t.Errorf("Flush must drain the backlog")
	}
}
