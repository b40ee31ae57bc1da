package gateway

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestNodeSubscriptionIndex_SubscribeAndSendToSession(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("node-1", "agent:default:main")
	idx.Subscribe("node-2", "agent:default:main")
	idx.Subscribe("node-3", "agent:default:subagent:abc")

	var got []string
	idx.SendToSession("agent:default:main", "chat", map[string]string{"x": "y"}, func(nodeID, event string, payload json.RawMessage) error {
		got = append(got, nodeID)
		return nil
	})

	sort.Strings(got)
	if len(got) != 2 || got[0] != "node-1" || got[1] != "node-2" {
		t.Errorf("SendToSession delivered to %v, want [node-1 node-2]", got)
	}
}

func TestNodeSubscriptionIndex_UnsubscribePrunesEmptySets(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("node-1", "session-a")
	idx.Unsubscribe("node-1", "session-a")

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if _, ok := idx.nodeToSessions["node-1"]; ok {
		t.Errorf("nodeToSessions should be pruned once empty")
	}
	if _, ok := idx.sessionToNodes["session-a"]; ok {
		t.Errorf("sessionToNodes should be pruned once empty")
	}
}

func TestNodeSubscriptionIndex_UnsubscribeAllRemovesEveryEntry(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("node-1", "session-a")
	idx.Subscribe("node-1", "session-b")
	idx.Subscribe("node-2", "session-a")

	idx.UnsubscribeAll("node-1")

	var sessionACount int
	idx.SendToSession("session-a", "evt", "payload", func(nodeID, event string, payload json.RawMessage) error {
		sessionACount++
		return nil
	})
	if sessionACount != 1 {
		t.Errorf("session-a should still reach node-2 only, got %d deliveries", sessionACount)
	}

	var sessionBCount int
	idx.SendToSession("session-b", "evt", "payload", func(nodeID, event string, payload json.RawMessage) error {
		sessionBCount++
		return nil
	})
	if sessionBCount != 0 {
		t.Errorf("session-b had only node-1 subscribed, should have zero deliveries after UnsubscribeAll")
	}
}

func TestNodeSubscriptionIndex_TrimmedAndEmptyInputsAreNoops(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("  ", "session-a")
	idx.Subscribe("node-1", "  ")
	idx.Subscribe("", "")

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.nodeToSessions) != 0 || len(idx.sessionToNodes) != 0 {
		t.Errorf("blank/whitespace-only inputs must not register a subscription")
	}
}

func TestNodeSubscriptionIndex_SendToAllConnectedIgnoresSubscriptions(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("node-1", "session-a")

	var got []string
	idx.SendToAllConnected("evt", "payload",
		func() []string { return []string{"node-1", "node-2", "node-3"} },
		func(nodeID, event string, payload json.RawMessage) error {
			got = append(got, nodeID)
			return nil
		})

	if len(got) != 3 {
		t.Errorf("SendToAllConnected should reach every listed node regardless of subscriptions, got %v", got)
	}
}

func TestNodeSubscriptionIndex_NilSendFuncIsNoop(t *testing.T) {
	idx := NewNodeSubscriptionIndex()
	idx.Subscribe("node-1", "session-a")
	idx.SendToSession("session-a", "evt", "payload", nil)
	idx.SendToAllSubscribed("evt", "payload", nil)
}
