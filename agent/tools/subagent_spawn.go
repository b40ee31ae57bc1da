package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/smallnest/goclaw/config"
	"github.com/smallnest/goclaw/session"
)

// SubagentRequesterOrigin is the delivery context of whoever asked for a
// subagent run, kept tools-package-local (rather than importing agent.DeliveryContext)
// to avoid an agent<->tools import cycle.
type SubagentRequesterOrigin struct {
	Channel   string `json:"channel,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	To        string `json:"to,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// SubagentRunParams are the inputs needed to register a new run with
// whatever registry backs this tool (see SubagentRegistry below).
type SubagentRunParams struct {
	RunID               string
	ChildSessionKey     string
	RequesterSessionKey string
	RequesterOrigin     *SubagentRequesterOrigin
	RequesterDisplayKey string
	Task                string
	Label               string
	Cleanup             string
	ArchiveAfterMinutes int
}

// SubagentSpawnResult is handed to the OnSpawn callback once a run has been
// registered, so the caller can kick off execution (e.g. publish an internal
// inbound message) outside of the tool's own Execute call.
type SubagentSpawnResult struct {
	RunID           string
	ChildSessionKey string
	Task            string
}

// SubagentRegistry is the minimal surface SubagentSpawnTool needs from a
// run registry; agent.subagentRegistryAdapter implements it.
type SubagentRegistry interface {
	RegisterRun(params *SubagentRunParams) error
}

// SubagentSpawnTool implements sessions_spawn: it lets the model start a
// subagent running a given task in a brand-new child session, returning
// immediately with the child's session key rather than blocking for a
// result (the result arrives later via the announce flow).
type SubagentSpawnTool struct {
	registry SubagentRegistry

	agentConfigGetter  func(agentID string) *config.AgentConfig
	defaultConfigGetter func() *config.AgentDefaults
	agentIDGetter       func(sessionKey string) string
	onSpawn             func(result *SubagentSpawnResult) error
}

// NewSubagentSpawnTool creates the tool backed by registry.
func NewSubagentSpawnTool(registry SubagentRegistry) *SubagentSpawnTool {
	return &SubagentSpawnTool{registry: registry}
}

// SetAgentConfigGetter wires a lookup from agent ID to its static config
// (used to check per-agent subagent permissions and overrides).
func (t *SubagentSpawnTool) SetAgentConfigGetter(fn func(agentID string) *config.AgentConfig) {
	t.agentConfigGetter = fn
}

// SetDefaultConfigGetter wires a lookup for the global agents.defaults
// section, used when an agent has no subagent-specific overrides.
func (t *SubagentSpawnTool) SetDefaultConfigGetter(fn func() *config.AgentDefaults) {
	t.defaultConfigGetter = fn
}

// SetAgentIDGetter wires a lookup from the caller's current session key to
// its owning agent ID, used to resolve which agent's subagent policy
// applies and to build the child's session key.
func (t *SubagentSpawnTool) SetAgentIDGetter(fn func(sessionKey string) string) {
	t.agentIDGetter = fn
}

// SetOnSpawn wires the callback invoked after a run has been registered.
func (t *SubagentSpawnTool) SetOnSpawn(fn func(result *SubagentSpawnResult) error) {
	t.onSpawn = fn
}

func (t *SubagentSpawnTool) Name() string { return "sessions_spawn" }

func (t *SubagentSpawnTool) Description() string {
	return "Spawn a subagent to work on a task in a new session. Returns immediately; " +
		"the subagent's result is delivered back to this conversation once it finishes. " +
		"Use cleanup=\"delete\" (default) to discard the child session afterwards, or " +
		"\"keep\" to leave it browsable via sessions_list/sessions_history."
}

func (t *SubagentSpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The task for the subagent to perform, in enough detail to work independently",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for this run, shown in sessions_list and the completion announcement",
			},
			"cleanup": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"delete", "keep"},
				"description": "Whether to delete the child session after announcing its result (default \"delete\")",
			},
		},
		"required": []interface{}{"task"},
	}
}

func (t *SubagentSpawnTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	task, _ := params["task"].(string)
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	label, _ := params["label"].(string)
	cleanup, _ := params["cleanup"].(string)
	if cleanup != "delete" && cleanup != "keep" {
		cleanup = "delete"
	}

	requesterSessionKey, _ := ctx.Value("session_key").(string)
	if requesterSessionKey == "" {
		return "", fmt.Errorf("sessions_spawn: no current session in context")
	}

	agentID := ""
	if t.agentIDGetter != nil {
		agentID = t.agentIDGetter(requesterSessionKey)
	}
	if agentID == "" {
		agentID = session.DefaultAgentID
	}

	archiveAfterMinutes := 60
	if t.defaultConfigGetter != nil {
		if defaults := t.defaultConfigGetter(); defaults != nil && defaults.Subagents != nil && defaults.Subagents.ArchiveAfterMinutes > 0 {
			archiveAfterMinutes = defaults.Subagents.ArchiveAfterMinutes
		}
	}
	runID := uuid.NewString()
	childSessionKey := session.BuildSubagentSessionKey(agentID, runID)

	if err := t.registry.RegisterRun(&SubagentRunParams{
		RunID:               runID,
		ChildSessionKey:     childSessionKey,
		RequesterSessionKey: requesterSessionKey,
		RequesterDisplayKey: requesterSessionKey,
		Task:                task,
		Label:               label,
		Cleanup:             cleanup,
		ArchiveAfterMinutes: archiveAfterMinutes,
	}); err != nil {
		return "", fmt.Errorf("sessions_spawn: register run: %w", err)
	}

	if t.onSpawn != nil {
		if err := t.onSpawn(&SubagentSpawnResult{RunID: runID, ChildSessionKey: childSessionKey, Task: task}); err != nil {
			return "", fmt.Errorf("sessions_spawn: start run: %w", err)
		}
	}

	out, _ := json.Marshal(map[string]string{
		"runId":           runID,
		"childSessionKey": childSessionKey,
		"status":          "started",
	})
	return string(out), nil
}
