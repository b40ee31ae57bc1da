package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/goclaw/internal/logger"
	"go.uber.org/zap"
)

// SubagentAnnounceType distinguishes what kind of child produced the
// announcement (currently only plain tasked subagents, kept open for future
// kinds such as scheduled/background runs).
type SubagentAnnounceType string

const SubagentAnnounceTypeTask SubagentAnnounceType = "subagent"

// announceSkipSentinel is the special child reply that suppresses the whole
// announce flow.
const announceSkipSentinel = "ANNOUNCE_SKIP"

// noReplySentinel is what the parent model may itself reply with to suppress
// user-visible output for the announcement trigger message.
const noReplySentinel = "NO_REPLY"

const (
	settleCap     = 120 * time.Second
	replyPollCap  = 15 * time.Second
	replyPollStep = 100 * time.Millisecond
)

// SubagentAnnounceParams carries everything the announce flow needs about
// one finished (or finishing) subagent run.
type SubagentAnnounceParams struct {
	ChildSessionKey     string
	ChildRunID          string
	RequesterSessionKey string
	RequesterOrigin     *DeliveryContext
	RequesterDisplayKey string
	Task                string
	Label               string
	LatestReply         string // pre-supplied reply ("roundOneReply"); if empty, read fresh
	StartedAt           *int64
	EndedAt             *int64
	Outcome             *SubagentRunOutcome
	Cleanup             string
	AnnounceType        SubagentAnnounceType

	WaitTimeout          time.Duration
	WaitForCompletion    bool
	Model                string
	TokensIn, TokensOut  int
	SessionID            string
	TranscriptPath       string
}

// WaitFunc mirrors agent.wait: block up to timeout for runID to settle,
// returning its terminal status.
type WaitFunc func(ctx context.Context, runID string, timeout time.Duration) (status string, startedAt, endedAt *int64, err error)

// ModelCostFunc resolves the USD-per-million-token input/output rate for a
// model name. Either rate may be zero if unknown.
type ModelCostFunc func(model string) (inputRate, outputRate float64)

// SubagentAnnouncer implements the announce flow: settle, acquire outcome,
// acquire reply, compute statistics, derive a status label, build the
// trigger message, deliver it, and finalise the child session.
type SubagentAnnouncer struct {
	send func(sessionKey, message string) error

	waitForCompletion   WaitFunc
	isEmbeddedRunActive IsEmbeddedRunActiveFunc
	getLatestReply      func(sessionKey string) string
	announceQueue       *AnnounceQueue
	modelCost           ModelCostFunc
	sessionsPatch       func(sessionKey, label string) error
	sessionsDelete      func(sessionKey string) error
	configuredMainKey   string
}

// NewSubagentAnnouncer creates an announcer that delivers direct sends
// through sendFunc. Additional collaborators (wait, embedded-run probing,
// the announce queue, cost tables, session patch/delete) are wired in via
// the Set* methods.
func NewSubagentAnnouncer(sendFunc func(sessionKey, message string) error) *SubagentAnnouncer {
	return &SubagentAnnouncer{send: sendFunc}
}

func (a *SubagentAnnouncer) SetWaitForCompletion(fn WaitFunc) { a.waitForCompletion = fn }
func (a *SubagentAnnouncer) SetIsEmbeddedRunActive(fn IsEmbeddedRunActiveFunc) {
	a.isEmbeddedRunActive = fn
}
func (a *SubagentAnnouncer) SetLatestReplyFunc(fn func(sessionKey string) string) {
	a.getLatestReply = fn
}
func (a *SubagentAnnouncer) SetAnnounceQueue(q *AnnounceQueue)        { a.announceQueue = q }
func (a *SubagentAnnouncer) SetModelCostFunc(fn ModelCostFunc)        { a.modelCost = fn }
func (a *SubagentAnnouncer) SetSessionsPatch(fn func(string, string) error) { a.sessionsPatch = fn }
func (a *SubagentAnnouncer) SetSessionsDelete(fn func(string) error)  { a.sessionsDelete = fn }
func (a *SubagentAnnouncer) SetConfiguredMainKey(key string)          { a.configuredMainKey = key }

// RunAnnounceFlow runs the full 8-step algorithm for one finishing child.
// It returns nil whenever the flow completed its best-effort attempt
// (whether or not a message was actually delivered) — callers key cleanup
// finalisation off whether a message was delivered (see didAnnounce return).
func (a *SubagentAnnouncer) RunAnnounceFlow(params *SubagentAnnounceParams) error {
	didAnnounce, err := a.run(params)
	if err != nil {
		logger.Warn("subagent announce flow failed",
			zap.String("runId", params.ChildRunID), zap.Error(err))
	}
	if !didAnnounce {
		return fmt.Errorf("subagent announce: did not announce run %s", params.ChildRunID)
	}
	return nil
}

func (a *SubagentAnnouncer) run(params *SubagentAnnounceParams) (didAnnounce bool, _ error) {
	timeout := params.WaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Step 1: settle.
	if a.isEmbeddedRunActive != nil {
		settleDeadline := timeout
		if settleDeadline > settleCap {
			settleDeadline = settleCap
		}
		if !a.waitUntilIdle(params.ChildSessionKey, settleDeadline) {
			return false, nil // defer: caller keeps the child session and retries later
		}
	}

	// Step 2: acquire outcome.
	outcome := params.Outcome
	startedAt, endedAt := params.StartedAt, params.EndedAt
	if outcome == nil && params.WaitForCompletion && a.waitForCompletion != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		status, gotStart, gotEnd, err := a.waitForCompletion(ctx, params.ChildRunID, timeout)
		cancel()
		if err != nil {
			return false, fmt.Errorf("acquire outcome: %w", err)
		}
		outcome = &SubagentRunOutcome{Status: status}
		if startedAt == nil {
			startedAt = gotStart
		}
		if endedAt == nil {
			endedAt = gotEnd
		}
	}
	if outcome == nil {
		outcome = &SubagentRunOutcome{Status: "unknown"}
	}

	// Step 3: acquire reply.
	reply := strings.TrimSpace(params.LatestReply)
	if reply == "" && a.getLatestReply != nil {
		deadline := timeout
		if deadline > replyPollCap {
			deadline = replyPollCap
		}
		reply = a.pollForReply(params.ChildSessionKey, deadline)
	}
	if reply == announceSkipSentinel {
		return false, nil
	}

	// Step 4: statistics.
	statsLine := a.buildStatsLine(params, startedAt, endedAt)

	// Step 5: status label.
	statusLabel := statusLabelFor(outcome)

	// Step 6: trigger message.
	displayReply := reply
	if displayReply == "" {
		displayReply = "(no output)"
	}
	message := buildTriggerMessage(params.AnnounceType, params.Label, statusLabel, displayReply, statsLine)

	// Step 7: deliver.
	delivered := a.deliver(params, message)

	// Step 8: finalise (best-effort, independent of delivery outcome).
	a.finalize(params)

	return delivered, nil
}

func (a *SubagentAnnouncer) waitUntilIdle(sessionKey string, cap time.Duration) bool {
	if !a.isEmbeddedRunActive(sessionKey) {
		return true
	}
	deadline := time.Now().Add(cap)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !a.isEmbeddedRunActive(sessionKey) {
			return true
		}
	}
	return !a.isEmbeddedRunActive(sessionKey)
}

func (a *SubagentAnnouncer) pollForReply(sessionKey string, cap time.Duration) string {
	if reply := strings.TrimSpace(a.getLatestReply(sessionKey)); reply != "" {
		return reply
	}
	deadline := time.Now().Add(cap)
	for time.Now().Before(deadline) {
		time.Sleep(replyPollStep)
		if reply := strings.TrimSpace(a.getLatestReply(sessionKey)); reply != "" {
			return reply
		}
	}
	return ""
}

func statusLabelFor(outcome *SubagentRunOutcome) string {
	switch outcome.Status {
	case "ok":
		return "completed successfully"
	case "timeout":
		return "timed out"
	case "error":
		errText := outcome.Error
		if errText == "" {
			errText = "unknown error"
		}
		return "failed: " + errText
	default:
		return "finished with unknown status"
	}
}

func (a *SubagentAnnouncer) buildStatsLine(params *SubagentAnnounceParams, startedAt, endedAt *int64) string {
	runtime := "n/a"
	if startedAt != nil && endedAt != nil {
		runtime = formatDurationCompact(time.Duration(*endedAt-*startedAt) * time.Millisecond)
	}

	total := params.TokensIn + params.TokensOut
	tokens := "n/a"
	if total > 0 {
		tokens = fmt.Sprintf("%d (in %d / out %d)", total, params.TokensIn, params.TokensOut)
	}

	cost := "n/a"
	if a.modelCost != nil && params.Model != "" && total > 0 {
		inRate, outRate := a.modelCost(params.Model)
		if inRate > 0 || outRate > 0 {
			estimate := (float64(params.TokensIn)*inRate + float64(params.TokensOut)*outRate) / 1_000_000
			cost = fmt.Sprintf("$%.4f", estimate)
		}
	}

	sessionKey := params.ChildSessionKey
	if sessionKey == "" {
		sessionKey = "n/a"
	}
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = "n/a"
	}
	transcript := params.TranscriptPath
	if transcript == "" {
		transcript = "n/a"
	}

	return fmt.Sprintf("runtime %s • tokens %s • est %s • sessionKey %s • sessionId %s • transcript %s",
		runtime, tokens, cost, sessionKey, sessionID, transcript)
}

func formatDurationCompact(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// triggerInstructionParagraph is the locale-specific instruction told to the
// parent model about how to relay an announcement to its user. Kept as one
// localised block (mixing English and Chinese, as the flow this was
// modelled on does) with announceType substituted in place.
func triggerInstructionParagraph(announceType SubagentAnnounceType) string {
	return fmt.Sprintf(
		"Please relay the above %s result to the user in your own words, in the user's language. "+
			"如果这条更新对用户没有实际意义，直接回复 %s 以跳过展示。",
		announceType, noReplySentinel)
}

func buildTriggerMessage(announceType SubagentAnnounceType, label, statusLabel, reply, statsLine string) string {
	if label == "" {
		label = string(announceType)
	}
	return fmt.Sprintf(
		"A %s %q just %s.\n\nFindings:\n%s\n\n%s\n\n%s",
		announceType, label, statusLabel, reply, statsLine, triggerInstructionParagraph(announceType))
}

func (a *SubagentAnnouncer) deliver(params *SubagentAnnounceParams, message string) bool {
	if a.announceQueue != nil {
		item := &AnnounceItem{
			Prompt:     message,
			EnqueuedAt: time.Now(),
			SessionKey: CanonicalParentKey(params.RequesterSessionKey, a.configuredMainKey),
			Origin:     params.RequesterOrigin,
			Send: func(origin *DeliveryContext, prompt string) error {
				return a.directSend(params.RequesterSessionKey, prompt)
			},
		}
		mode := AnnounceModeSteerBacklog
		result := a.announceQueue.Enqueue(mode, item)
		if result == AnnounceDelivered || result == AnnounceQueued {
			return true
		}
	}
	return a.directSend(params.RequesterSessionKey, message) == nil
}

func (a *SubagentAnnouncer) directSend(sessionKey, message string) error {
	if a.send == nil {
		return fmt.Errorf("subagent announce: no send function configured")
	}
	return a.send(sessionKey, message)
}

func (a *SubagentAnnouncer) finalize(params *SubagentAnnounceParams) {
	if params.Label != "" && a.sessionsPatch != nil {
		if err := a.sessionsPatch(params.ChildSessionKey, params.Label); err != nil {
			logger.Debug("subagent announce: patch label failed",
				zap.String("sessionKey", params.ChildSessionKey), zap.Error(err))
		}
	}
	if params.Cleanup == "delete" && a.sessionsDelete != nil {
		if err := a.sessionsDelete(params.ChildSessionKey); err != nil {
			logger.Debug("subagent announce: delete session failed",
				zap.String("sessionKey", params.ChildSessionKey), zap.Error(err))
		}
	}
}
