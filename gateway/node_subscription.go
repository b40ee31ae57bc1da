package gateway

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/smallnest/goclaw/internal/logger"
	"go.uber.org/zap"
)

// NodeSubscriptionIndex keeps the bidirectional mapping between gateway
// nodes (WebSocket connection ids) and the chat session keys they've asked
// to follow, and fans events out along it.
type NodeSubscriptionIndex struct {
	mu             sync.RWMutex
	nodeToSessions map[string]map[string]struct{}
	sessionToNodes map[string]map[string]struct{}
}

// NewNodeSubscriptionIndex creates an empty index.
func NewNodeSubscriptionIndex() *NodeSubscriptionIndex {
	return &NodeSubscriptionIndex{
		nodeToSessions: make(map[string]map[string]struct{}),
		sessionToNodes: make(map[string]map[string]struct{}),
	}
}

// Subscribe records that nodeID wants events for sessionKey. Empty inputs
// (after trimming) are a no-op.
func (idx *NodeSubscriptionIndex) Subscribe(nodeID, sessionKey string) {
	nodeID = strings.TrimSpace(nodeID)
	sessionKey = strings.TrimSpace(sessionKey)
	if nodeID == "" || sessionKey == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	sessions, ok := idx.nodeToSessions[nodeID]
	if !ok {
		sessions = make(map[string]struct{})
		idx.nodeToSessions[nodeID] = sessions
	}
	sessions[sessionKey] = struct{}{}

	nodes, ok := idx.sessionToNodes[sessionKey]
	if !ok {
		nodes = make(map[string]struct{})
		idx.sessionToNodes[sessionKey] = nodes
	}
	nodes[nodeID] = struct{}{}
}

// Unsubscribe removes nodeID's interest in sessionKey, pruning either side's
// now-empty bucket entirely so no empty sets leak.
func (idx *NodeSubscriptionIndex) Unsubscribe(nodeID, sessionKey string) {
	nodeID = strings.TrimSpace(nodeID)
	sessionKey = strings.TrimSpace(sessionKey)
	if nodeID == "" || sessionKey == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(nodeID, sessionKey)
}

func (idx *NodeSubscriptionIndex) removeLocked(nodeID, sessionKey string) {
	if sessions, ok := idx.nodeToSessions[nodeID]; ok {
		delete(sessions, sessionKey)
		if len(sessions) == 0 {
			delete(idx.nodeToSessions, nodeID)
		}
	}
	if nodes, ok := idx.sessionToNodes[sessionKey]; ok {
		delete(nodes, nodeID)
		if len(nodes) == 0 {
			delete(idx.sessionToNodes, sessionKey)
		}
	}
}

// UnsubscribeAll removes every subscription nodeID holds (called when a
// connection closes), pruning the inverse session buckets as it goes.
func (idx *NodeSubscriptionIndex) UnsubscribeAll(nodeID string) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	sessions := idx.nodeToSessions[nodeID]
	for sessionKey := range sessions {
		idx.removeLocked(nodeID, sessionKey)
	}
}

// SendFunc delivers a pre-serialized payload to one node.
type SendFunc func(nodeID string, event string, payload json.RawMessage) error

// ListFunc returns every currently-connected node id, ignoring subscriptions.
type ListFunc func() []string

func marshalPayload(event string, payload interface{}) (json.RawMessage, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("node subscription: marshal payload failed",
			zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}

// SendToSession fans event/payload out to every node subscribed to
// sessionKey. A nil sendFn is a silent no-op (no subscribers to notify yet).
func (idx *NodeSubscriptionIndex) SendToSession(sessionKey, event string, payload interface{}, sendFn SendFunc) {
	if sendFn == nil {
		return
	}
	data, ok := marshalPayload(event, payload)
	if !ok {
		return
	}

	idx.mu.RLock()
	nodes := make([]string, 0, len(idx.sessionToNodes[sessionKey]))
	for nodeID := range idx.sessionToNodes[sessionKey] {
		nodes = append(nodes, nodeID)
	}
	idx.mu.RUnlock()

	for _, nodeID := range nodes {
		if err := sendFn(nodeID, event, data); err != nil {
			logger.Warn("node subscription: send to session failed",
				zap.String("session_key", sessionKey), zap.String("node_id", nodeID), zap.Error(err))
		}
	}
}

// SendToAllSubscribed fans event/payload out to every node with at least
// one subscription, regardless of which session it's for.
func (idx *NodeSubscriptionIndex) SendToAllSubscribed(event string, payload interface{}, sendFn SendFunc) {
	if sendFn == nil {
		return
	}
	data, ok := marshalPayload(event, payload)
	if !ok {
		return
	}

	idx.mu.RLock()
	nodes := make([]string, 0, len(idx.nodeToSessions))
	for nodeID := range idx.nodeToSessions {
		nodes = append(nodes, nodeID)
	}
	idx.mu.RUnlock()

	for _, nodeID := range nodes {
		if err := sendFn(nodeID, event, data); err != nil {
			logger.Warn("node subscription: send to subscribed failed",
				zap.String("node_id", nodeID), zap.Error(err))
		}
	}
}

// SendToAllConnected ignores subscriptions entirely and fans event/payload
// out to every node listFn reports as connected.
func (idx *NodeSubscriptionIndex) SendToAllConnected(event string, payload interface{}, listFn ListFunc, sendFn SendFunc) {
	if listFn == nil || sendFn == nil {
		return
	}
	data, ok := marshalPayload(event, payload)
	if !ok {
		return
	}

	for _, nodeID := range listFn() {
		if err := sendFn(nodeID, event, data); err != nil {
			logger.Warn("node subscription: send to connected failed",
				zap.String("node_id", nodeID), zap.Error(err))
		}
	}
}
