package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/goclaw/bus"
	"github.com/smallnest/goclaw/config"
	"github.com/smallnest/goclaw/providers"
	"github.com/smallnest/goclaw/session"
)

// MessageRole identifies the speaker of an AgentMessage.
type MessageRole string

const (
	RoleSystem     MessageRole = "system"
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleToolResult MessageRole = "tool"
)

// ContentBlock is one piece of an AgentMessage's content. Concrete types are
// TextContent, ImageContent, ThinkingContent and ToolCallContent.
type ContentBlock interface {
	BlockType() string
}

// TextContent is a plain text block.
type TextContent struct {
	Text string
}

func (TextContent) BlockType() string { return "text" }

// ImageContent references an image, either inline (Data) or by URL.
type ImageContent struct {
	URL      string
	Data     string
	MimeType string
}

func (ImageContent) BlockType() string { return "image" }

// ThinkingContent carries model "thinking"/reasoning content, when surfaced.
type ThinkingContent struct {
	Thinking string
}

func (ThinkingContent) BlockType() string { return "thinking" }

// ToolCallContent represents a single tool invocation requested by the model.
type ToolCallContent struct {
	ID        string
	Name      string
	Arguments map[string]any
}

func (ToolCallContent) BlockType() string { return "tool_call" }

// AgentMessage is one turn of conversation as seen by the orchestrator.
type AgentMessage struct {
	Role      MessageRole
	Content   []ContentBlock
	Timestamp int64 // unix millis
	Metadata  map[string]any
}

// ToolResult is what a Tool.Execute call returns.
type ToolResult struct {
	Content []ContentBlock
	Details map[string]any
}

// Tool is anything the orchestrator can invoke on the model's behalf.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any, streamCb func(ToolResult)) (ToolResult, error)
}

// SimpleTool is the narrower contract exposed by the agent/tools package
// (session, subagent and similar helper tools) that don't need streaming
// partial results.
type SimpleTool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// simpleToolAdapter makes a SimpleTool satisfy Tool.
type simpleToolAdapter struct {
	inner SimpleTool
}

func (a *simpleToolAdapter) Name() string                { return a.inner.Name() }
func (a *simpleToolAdapter) Description() string         { return a.inner.Description() }
func (a *simpleToolAdapter) Parameters() map[string]any  { return a.inner.Parameters() }
func (a *simpleToolAdapter) Execute(ctx context.Context, args map[string]any, _ func(ToolResult)) (ToolResult, error) {
	result, err := a.inner.Execute(ctx, args)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: []ContentBlock{TextContent{Text: result}}}, nil
}

// ToolRegistry holds the tools available to one or more agents.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a full Tool implementation.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool registry: tool must have a non-empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool registry: tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// RegisterExisting wraps a SimpleTool and registers it as a Tool.
func (r *ToolRegistry) RegisterExisting(tool SimpleTool) error {
	if tool == nil {
		return fmt.Errorf("tool registry: tool must not be nil")
	}
	return r.Register(&simpleToolAdapter{inner: tool})
}

// Get returns the tool registered under name, if any.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ListExisting returns tool descriptors (name/description/parameters) for
// every registered tool, used to surface tool info over RPC.
func (r *ToolRegistry) ListExisting() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]interface{}, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, map[string]interface{}{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		})
	}
	return out
}

// Remove unregisters a tool by name.
func (r *ToolRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// EventType identifies what an Event reports.
type EventType string

const (
	EventAgentStart         EventType = "agent_start"
	EventAgentEnd           EventType = "agent_end"
	EventTurnStart          EventType = "turn_start"
	EventTurnEnd            EventType = "turn_end"
	EventMessageStart       EventType = "message_start"
	EventMessageEnd         EventType = "message_end"
	EventMessageDelta       EventType = "message_delta"
	EventToolExecutionStart EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd   EventType = "tool_execution_end"
)

// Event is emitted on the orchestrator's event channel as a run progresses.
type Event struct {
	Type          EventType
	Content       string
	StopReason    string
	ToolID        string
	ToolName      string
	ToolArgs      map[string]any
	ToolResult    *ToolResult
	ToolError     bool
	FinalMessages []AgentMessage
	Timestamp     time.Time
}

// NewEvent creates an Event of the given type, timestamped now.
func NewEvent(t EventType) *Event {
	return &Event{Type: t, Timestamp: time.Now()}
}

func (e *Event) WithFinalMessages(messages []AgentMessage) *Event {
	e.FinalMessages = messages
	return e
}

func (e *Event) WithContent(content string) *Event {
	e.Content = content
	return e
}

func (e *Event) WithStopReason(reason string) *Event {
	e.StopReason = reason
	return e
}

func (e *Event) WithToolExecution(id, name string, args map[string]any) *Event {
	e.ToolID = id
	e.ToolName = name
	e.ToolArgs = args
	return e
}

func (e *Event) WithToolResult(result *ToolResult, isError bool) *Event {
	e.ToolResult = result
	e.ToolError = isError
	return e
}

// Skill is a named block of extra instructions/context an agent can load.
type Skill struct {
	Name        string
	Description string
	Content     string
}

// PromptMode controls how much skill content is folded into the system prompt.
type PromptMode string

const (
	PromptModeFull    PromptMode = "full"
	PromptModeSummary PromptMode = "summary"
	PromptModeNone    PromptMode = "none"
)

// LoopConfig configures one Orchestrator's run loop.
type LoopConfig struct {
	MaxIterations        int
	Model                string
	ContextWindowTokens  int
	ReserveTokens        int
	MaxHistoryTurns      int
	Temperature          float64
	MaxTokens            int
	ModelRequestInterval time.Duration

	Provider providers.Provider

	TransformContext func([]AgentMessage) ([]AgentMessage, error)
	ConvertToLLM     func([]AgentMessage) ([]providers.Message, error)

	ContextBuilder *ContextBuilder
	Skills         []Skill

	GetSteeringMessages  func() ([]AgentMessage, error)
	GetFollowUpMessages  func() ([]AgentMessage, error)
}

// AgentState is the mutable state threaded through one agent's run loop.
type AgentState struct {
	mu sync.Mutex

	SessionKey   string
	Messages     []AgentMessage
	Tools        []Tool
	LoadedSkills []string
	SystemPrompt string
	IsStreaming  bool
	Model        string

	pendingTools    map[string]bool
	steeringQueue   []AgentMessage
	followUpQueue   []AgentMessage
}

// NewAgentState creates a fresh state for a session.
func NewAgentState(sessionKey string) *AgentState {
	return &AgentState{
		SessionKey:   sessionKey,
		pendingTools: make(map[string]bool),
	}
}

// Clone returns a deep-enough copy safe for one orchestrator run to mutate
// without racing the live state (messages/tools slices are copied).
func (s *AgentState) Clone() *AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := &AgentState{
		SessionKey:   s.SessionKey,
		Messages:     append([]AgentMessage(nil), s.Messages...),
		Tools:        append([]Tool(nil), s.Tools...),
		LoadedSkills: append([]string(nil), s.LoadedSkills...),
		SystemPrompt: s.SystemPrompt,
		IsStreaming:  s.IsStreaming,
		Model:        s.Model,
		pendingTools: make(map[string]bool),
	}
	return clone
}

// AddMessages appends messages to the state's history.
func (s *AgentState) AddMessages(messages []AgentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, messages...)
}

// AddMessage appends a single message.
func (s *AgentState) AddMessage(msg AgentMessage) {
	s.AddMessages([]AgentMessage{msg})
}

// AddPendingTool marks a tool call as in flight.
func (s *AgentState) AddPendingTool(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingTools == nil {
		s.pendingTools = make(map[string]bool)
	}
	s.pendingTools[id] = true
}

// RemovePendingTool clears an in-flight tool call marker.
func (s *AgentState) RemovePendingTool(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingTools, id)
}

// Steer injects a message to be consumed by the run loop on its next
// iteration without waiting for the current turn to fully finish.
func (s *AgentState) Steer(msg AgentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steeringQueue = append(s.steeringQueue, msg)
}

// QueueFollowUp queues a message to be appended once the run loop settles.
func (s *AgentState) QueueFollowUp(msg AgentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUpQueue = append(s.followUpQueue, msg)
}

// DequeueSteeringMessages drains and returns any pending steering messages.
func (s *AgentState) DequeueSteeringMessages() []AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steeringQueue) == 0 {
		return nil
	}
	out := s.steeringQueue
	s.steeringQueue = nil
	return out
}

// DequeueFollowUpMessages drains and returns any pending follow-up messages.
func (s *AgentState) DequeueFollowUpMessages() []AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.followUpQueue) == 0 {
		return nil
	}
	out := s.followUpQueue
	s.followUpQueue = nil
	return out
}

// NewAgentConfig is the full set of inputs needed to construct an Agent.
type NewAgentConfig struct {
	ID        string
	Bus       *bus.MessageBus
	Provider  providers.Provider
	SessionMgr *session.Manager
	Tools     *ToolRegistry
	Context   *ContextBuilder
	Model     string
	Workspace string

	MaxIteration    int
	Temperature     float64
	MaxTokens       int

	ContextWindowTokens         int
	ReserveTokens               int
	MaxHistoryTurns             int
	ModelRequestIntervalSeconds int

	SkillsLoader *SkillsLoader
}

// Agent owns one named personality/workspace: its configuration, its
// persistent state, and the machinery to spin up orchestrator runs against
// it (including child subagents sharing the same model/workspace).
type Agent struct {
	id        string
	bus       *bus.MessageBus
	provider  providers.Provider
	sessionMgr *session.Manager
	tools     *ToolRegistry
	context   *ContextBuilder
	skills    *SkillsLoader

	model     string
	workspace string

	maxIteration int
	temperature  float64
	maxTokens    int

	contextWindowTokens  int
	reserveTokens        int
	maxHistoryTurns      int
	modelRequestInterval time.Duration

	mu           sync.RWMutex
	state        *AgentState
	systemPrompt string

	orchestrators map[string]*Orchestrator
}

// NewAgent constructs an Agent from cfg.
func NewAgent(cfg *NewAgentConfig) (*Agent, error) {
	if cfg == nil || cfg.ID == "" {
		return nil, fmt.Errorf("agent: config must have a non-empty ID")
	}
	maxIter := cfg.MaxIteration
	if maxIter <= 0 {
		maxIter = 15
	}
	a := &Agent{
		id:                   cfg.ID,
		bus:                  cfg.Bus,
		provider:             cfg.Provider,
		sessionMgr:           cfg.SessionMgr,
		tools:                cfg.Tools,
		context:              cfg.Context,
		skills:               cfg.SkillsLoader,
		model:                cfg.Model,
		workspace:            cfg.Workspace,
		maxIteration:         maxIter,
		temperature:          cfg.Temperature,
		maxTokens:            cfg.MaxTokens,
		contextWindowTokens:  cfg.ContextWindowTokens,
		reserveTokens:        cfg.ReserveTokens,
		maxHistoryTurns:      cfg.MaxHistoryTurns,
		modelRequestInterval: time.Duration(cfg.ModelRequestIntervalSeconds) * time.Second,
		state:                NewAgentState(cfg.ID),
		orchestrators:        make(map[string]*Orchestrator),
	}
	a.state.Model = cfg.Model
	return a, nil
}

// GetID returns the agent's configured ID.
func (a *Agent) GetID() string { return a.id }

// SetSystemPrompt overrides the base system prompt used for new runs.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.systemPrompt = prompt
	a.state.SystemPrompt = prompt
}

// GetState returns the agent's live state (shared across sessions bound to
// this agent; callers that need per-session isolation should clone it).
func (a *Agent) GetState() *AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Start performs any startup bookkeeping for the agent. Currently a no-op
// hook kept symmetric with Stop for lifecycle management by AgentManager.
func (a *Agent) Start(ctx context.Context) error {
	return nil
}

// Stop tears down any orchestrators this agent created.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, o := range a.orchestrators {
		o.Stop()
		delete(a.orchestrators, key)
	}
	return nil
}

func (a *Agent) buildLoopConfig() *LoopConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &LoopConfig{
		MaxIterations:        a.maxIteration,
		Model:                a.model,
		ContextWindowTokens:  a.contextWindowTokens,
		ReserveTokens:        a.reserveTokens,
		MaxHistoryTurns:      a.maxHistoryTurns,
		Temperature:          a.temperature,
		MaxTokens:            a.maxTokens,
		ModelRequestInterval: a.modelRequestInterval,
		Provider:             a.provider,
		ContextBuilder:       a.context,
	}
}

// GetOrchestrator returns (creating if necessary) the orchestrator bound to
// this agent's own session key.
func (a *Agent) GetOrchestrator() *Orchestrator {
	return a.CreateOrchestratorForRun(a.id)
}

// GetExistingOrchestrator returns the orchestrator already created for
// sessionKey, if any, without creating one.
func (a *Agent) GetExistingOrchestrator(sessionKey string) (*Orchestrator, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.orchestrators[sessionKey]
	return o, ok
}

// CreateOrchestratorForRun returns the orchestrator for sessionKey, creating
// one (sharing this agent's model/provider/tools) on first use.
func (a *Agent) CreateOrchestratorForRun(sessionKey string) *Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o, ok := a.orchestrators[sessionKey]; ok {
		return o
	}
	state := a.state
	if sessionKey != a.id {
		state = a.state.Clone()
		state.SessionKey = sessionKey
	}
	if a.tools != nil {
		state.Tools = a.tools.List()
	}
	state.SystemPrompt = a.systemPrompt
	cfg := a.buildLoopConfig()
	o := NewOrchestrator(cfg, state)
	a.orchestrators[sessionKey] = o
	return o
}
