package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeSubagentRegistry struct {
	registered []*SubagentRunParams
	failWith   error
}

func (f *fakeSubagentRegistry) RegisterRun(params *SubagentRunParams) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.registered = append(f.registered, params)
	return nil
}

func ctxWithSessionKey(sessionKey string) context.Context {
	return context.WithValue(context.Background(), "session_key", sessionKey)
}

func TestSubagentSpawnTool_Name(t *testing.T) {
	tool := NewSubagentSpawnTool(&fakeSubagentRegistry{})
	if tool.Name() != "sessions_spawn" {
		t.Errorf("Name() = %q, want sessions_spawn", tool.Name())
	}
}

func TestSubagentSpawnTool_RequiresTask(t *testing.T) {
	tool := NewSubagentSpawnTool(&fakeSubagentRegistry{})
	_, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{})
	if err == nil {
		t.Error("Execute() with no task should error")
	}

	_, err = tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{"task": "   "})
	if err == nil {
		t.Error("Execute() with a whitespace-only task should error")
	}
}

func TestSubagentSpawnTool_RequiresSessionInContext(t *testing.T) {
	tool := NewSubagentSpawnTool(&fakeSubagentRegistry{})
	_, err := tool.Execute(context.Background(), map[string]interface{}{"task": "do it"})
	if err == nil {
		t.Error("Execute() with no session_key in context should error")
	}
}

func TestSubagentSpawnTool_RegistersRunAndReturnsChildSessionKey(t *testing.T) {
	registry := &fakeSubagentRegistry{}
	tool := NewSubagentSpawnTool(registry)
	tool.SetAgentIDGetter(func(sessionKey string) string { return "default" })

	out, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{
		"task":  "research the weather",
		"label": "weather check",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(registry.registered) != 1 {
		t.Fatalf("expected exactly one registered run, got %d", len(registry.registered))
	}
	run := registry.registered[0]
	if run.Task != "research the weather" || run.Label != "weather check" {
		t.Errorf("registered run = %+v, unexpected task/label", run)
	}
	if run.Cleanup != "delete" {
		t.Errorf("Cleanup default = %q, want delete", run.Cleanup)
	}
	if !strings.HasPrefix(run.ChildSessionKey, "agent:default:subagent:") {
		t.Errorf("ChildSessionKey = %q, want agent:default:subagent:<uuid> shape", run.ChildSessionKey)
	}

	var parsed map[string]string
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if parsed["status"] != "started" || parsed["childSessionKey"] != run.ChildSessionKey {
		t.Errorf("output = %+v, mismatched status/childSessionKey", parsed)
	}
}

func TestSubagentSpawnTool_InvalidCleanupDefaultsToDelete(t *testing.T) {
	registry := &fakeSubagentRegistry{}
	tool := NewSubagentSpawnTool(registry)

	_, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{
		"task":    "do it",
		"cleanup": "bogus",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if registry.registered[0].Cleanup != "delete" {
		t.Errorf("Cleanup = %q, want delete for an invalid value", registry.registered[0].Cleanup)
	}
}

func TestSubagentSpawnTool_KeepCleanupIsRespected(t *testing.T) {
	registry := &fakeSubagentRegistry{}
	tool := NewSubagentSpawnTool(registry)

	_, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{
		"task":    "do it",
		"cleanup": "keep",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if registry.registered[0].Cleanup != "keep" {
		t.Errorf("Cleanup = %q, want keep", registry.registered[0].Cleanup)
	}
}

func TestSubagentSpawnTool_OnSpawnCallbackFires(t *testing.T) {
	registry := &fakeSubagentRegistry{}
	tool := NewSubagentSpawnTool(registry)

	var gotResult *SubagentSpawnResult
	tool.SetOnSpawn(func(result *SubagentSpawnResult) error {
		gotResult = result
		return nil
	})

	_, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{"task": "do it"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotResult == nil || gotResult.Task != "do it" {
		t.Errorf("OnSpawn callback did not receive the expected result, got %+v", gotResult)
	}
}

func TestSubagentSpawnTool_RegisterFailurePropagates(t *testing.T) {
	registry := &fakeSubagentRegistry{failWith: errFakeRegister}
	tool := NewSubagentSpawnTool(registry)

	_, err := tool.Execute(ctxWithSessionKey("agent:default:main"), map[string]interface{}{"task": "do it"})
	if err == nil {
		t.Error("Execute() should propagate a registry failure")
	}
}

var errFakeRegister = fakeRegisterError("registration failed")

type fakeRegisterError string

func (e fakeRegisterError) Error() string { return string(e) }
