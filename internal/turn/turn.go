package turn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/localgpt/internal/config"
	"github.com/ehrlich-b/localgpt/internal/llm"
	"github.com/ehrlich-b/localgpt/internal/lock"
	"github.com/ehrlich-b/localgpt/internal/logger"
	"github.com/ehrlich-b/localgpt/internal/memory"
	"github.com/ehrlich-b/localgpt/internal/memory/index"
	"github.com/ehrlich-b/localgpt/internal/paths"
	"github.com/ehrlich-b/localgpt/internal/sandbox"
	"github.com/ehrlich-b/localgpt/internal/security/audit"
	"github.com/ehrlich-b/localgpt/internal/security/policy"
	"github.com/ehrlich-b/localgpt/internal/security/suffix"
	"github.com/ehrlich-b/localgpt/internal/session"
	"github.com/ehrlich-b/localgpt/internal/skill"
)

// maxToolRounds bounds how many provider round-trips a single turn may
// make dispatching tool calls, so a misbehaving model can't loop forever.
const maxToolRounds = 25

// silentReplyTokens are recognized and suppressed from user-facing
// output, but kept verbatim in saved history.
var silentReplyTokens = map[string]bool{"NO_REPLY": true, "HEARTBEAT_OK": true}

// Engine runs turns against one workspace: it owns the provider client,
// session store, memory index, and audit log every turn shares.
type Engine struct {
	Paths    *paths.Paths
	Config   config.Config
	LLM      *llm.Client
	Sessions *session.Store
	Index    *index.Index // nil disables memory_search
	Audit    *audit.Log

	// Approve gates tools listed in Config.ApprovalTools. Interactive
	// frontends attach a prompt here; when nil, gated tools are denied.
	Approve func(call llm.ToolCall) bool
}

// New builds an Engine from its already-constructed collaborators.
func New(p *paths.Paths, cfg config.Config, llmClient *llm.Client, sessions *session.Store, idx *index.Index, auditLog *audit.Log) *Engine {
	return &Engine{Paths: p, Config: cfg, LLM: llmClient, Sessions: sessions, Index: idx, Audit: auditLog}
}

// Run executes one full turn for sessionKey: lock, verify, assemble,
// compact if needed, stream, dispatch tools, save, release. It returns the final
// assistant text shown to the user (silent-reply tokens suppressed).
func (e *Engine) Run(ctx context.Context, sessionKey, userPrompt string, events chan<- Event) (string, error) {
	guard, err := lock.Acquire(e.Paths.WorkspaceLockFile())
	if err != nil {
		return "", fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer guard.Close()

	policyResult := e.verifyPolicy()
	emit(events, EventPolicy, policyResult.State.String())
	if blocksTurn(policyResult.State, e.Config.StrictPolicy) {
		return "", fmt.Errorf("policy verification failed: %s", policyResult.State)
	}

	sess, err := e.Sessions.Load(sessionKey)
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", sessionKey, err)
	}
	sess.AppendMessage("user", userPrompt, nil, "")

	eligibleSkills := e.eligibleSkills()
	systemPrompt := e.assembleSystemPrompt(eligibleSkills)
	sess.SetSystemContext(systemPrompt)

	endingBlock := e.buildEndingBlock(policyResult)
	if e.Config.SuffixEnabled && endingBlock == "" {
		return "", fmt.Errorf("security suffix could not be assembled")
	}

	if needsCompaction(systemPrompt, sess.Messages, e.Config.ContextWindow, e.Config.ReserveTokens) {
		if err := e.compact(ctx, sess, endingBlock, events); err != nil {
			logger.Warn("compaction failed", "error", err)
		}
	}

	disp := &dispatcher{
		workspace:       e.Paths.Workspace,
		stateDir:        e.Paths.DataDir,
		sandboxEnabled:  e.Config.SandboxEnabled,
		sandboxLevel:    sandbox.EffectiveLevel(sandbox.ParseLevel(e.Config.SandboxLevel), sandbox.Detect()),
		timeoutSecs:     e.Config.SandboxTimeout,
		maxOutputBytes:  e.Config.MaxOutputBytes,
		networkDomains:  e.Config.SandboxNetworkDomains,
		extraWriteRoots: skillMounts(eligibleSkills, e.Paths.Workspace),
		idx:             e.Index,
		auditLog:        e.Audit,
	}

	finalText, err := e.converse(ctx, sess, disp, endingBlock, events)
	if err != nil {
		emit(events, EventError, err.Error())
		if saveErr := e.Sessions.Save(sessionKey, sess); saveErr != nil {
			logger.Warn("save session after error", "error", saveErr)
		}
		return "", err
	}

	sess.Header.TokenCount = estimateTokens(systemPrompt, sess.Messages)
	if err := e.Sessions.Save(sessionKey, sess); err != nil {
		return "", fmt.Errorf("save session %s: %w", sessionKey, err)
	}

	emit(events, EventFinal, finalText)
	if silentReplyTokens[strings.TrimSpace(finalText)] {
		return "", nil
	}
	return finalText, nil
}

// converse drives the streaming call / tool-dispatch loop until the
// provider emits a finished reply with no further tool calls. The ending
// security block is re-appended as the last message of every round, so
// the hardcoded suffix stays byte-for-byte the final content of the
// context no matter how many tool results accumulate before it.
func (e *Engine) converse(ctx context.Context, sess *session.Session, disp *dispatcher, endingBlock string, events chan<- Event) (string, error) {
	tools := ToolSchemas()

	for round := 0; round < maxToolRounds; round++ {
		emit(events, EventPlan, "thinking...")

		messages := withEndingBlock(toLLMMessages(sess.SystemContext, sess.Messages), endingBlock)
		stream, err := e.LLM.ChatStream(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("chat stream: %w", err)
		}

		var toolCalls []llm.ToolCall
		for {
			chunk, ok := stream.Next()
			if !ok {
				break
			}
			if chunk.Delta != "" {
				emit(events, EventContentStep, chunk.Delta)
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
		}
		if err := stream.Err(); err != nil {
			return "", fmt.Errorf("chat stream: %w", err)
		}

		content := stream.Text()
		sess.AppendMessage("assistant", content, toSessionToolCalls(toolCalls), "")

		if len(toolCalls) == 0 {
			return content, nil
		}

		for _, call := range toolCalls {
			if !e.approved(call) {
				denial := "Error: tool call denied (requires operator approval)"
				emit(events, EventObservation, denial)
				sess.AppendMessage("tool", wrapToolOutput(denial), nil, call.ID)
				continue
			}
			emit(events, EventRunTool, call.Name)
			result := disp.dispatch(ctx, call)
			emit(events, EventObservation, result.Output)
			sess.AppendMessage("tool", wrapToolOutput(result.Output), nil, call.ID)
		}
	}

	return "", fmt.Errorf("exceeded %d tool-dispatch rounds without a final reply", maxToolRounds)
}

// approved reports whether call may run: tools outside the approval set
// always may; tools inside it need the attached approver's consent.
func (e *Engine) approved(call llm.ToolCall) bool {
	gated := false
	for _, name := range e.Config.ApprovalTools {
		if name == call.Name {
			gated = true
			break
		}
	}
	if !gated {
		return true
	}
	return e.Approve != nil && e.Approve(call)
}

func wrapToolOutput(output string) string {
	return "<tool_output>\n" + output + "\n</tool_output>"
}

// verifyPolicy runs the Policy Verifier exactly once per turn and writes
// the matching audit entry.
func (e *Engine) verifyPolicy() policy.Result {
	result := policy.Verify(e.Paths.Workspace, e.Paths.DataDir)

	var action audit.Action
	switch result.State {
	case policy.Missing:
		action = audit.Missing
	case policy.Unsigned:
		action = audit.Unsigned
	case policy.ManifestCorrupted:
		action = audit.ManifestCorrupted
	case policy.TamperDetected:
		action = audit.TamperDetected
	case policy.SuspiciousContent:
		action = audit.SuspiciousContent
	case policy.Valid:
		action = audit.Verified
	}
	if e.Audit != nil {
		detail := "suffix=disabled"
		if e.Config.SuffixEnabled {
			detail = "suffix=active"
		}
		_ = e.Audit.Append(action, "", "policy_verify", detail)
	}
	return result
}

// blocksTurn reports whether a policy state must abort the turn outright.
// Missing and Unsigned are always tolerated (a fresh workspace has no
// policy yet). Tamper, corruption, and injected content only abort the
// turn when strictPolicy is set; otherwise buildEndingBlock falls back
// to the hardcoded suffix alone (no policy section) and the turn
// completes.
func blocksTurn(state policy.State, strictPolicy bool) bool {
	if !strictPolicy {
		return false
	}
	switch state {
	case policy.TamperDetected, policy.ManifestCorrupted, policy.SuspiciousContent:
		return true
	default:
		return false
	}
}

// eligibleSkills discovers the workspace's skills and filters them by the
// enabled-state file and each skill's binary/env probes.
func (e *Engine) eligibleSkills() []*skill.Skill {
	skills, err := skill.Discover(e.Paths.SkillsDir())
	if err != nil {
		return nil
	}
	state, _ := skill.LoadState(e.Paths.SkillsDir())
	return skill.Eligible(skills, state, os.Getenv)
}

// skillMounts resolves the mount paths eligible skills declare, expanding
// $WORKSPACE/$HOME variables and dropping the :ro/:rw mode suffix; the
// dispatcher adds the writable ones to the sandbox's extra write roots for
// this turn.
func skillMounts(skills []*skill.Skill, workspace string) []string {
	home, _ := os.UserHomeDir()
	vars := map[string]string{"WORKSPACE": workspace, "HOME": home}
	var mounts []string
	for _, s := range skills {
		for _, m := range skill.ResolveVars(s.Mounts, vars) {
			// Strip a trailing :ro/:rw mode; read-only mounts are not write roots.
			if i := strings.LastIndex(m, ":"); i >= 0 && (m[i+1:] == "ro" || m[i+1:] == "rw") {
				if m[i+1:] == "ro" {
					continue
				}
				m = m[:i]
			}
			mounts = append(mounts, m)
		}
	}
	return mounts
}

// assembleSystemPrompt builds the context header that opens every turn:
// system prompt, skills-available section, memory context. The ending
// security block is deliberately not part of it — that goes last in the
// context, after every conversation message.
func (e *Engine) assembleSystemPrompt(eligible []*skill.Skill) string {
	var b strings.Builder
	b.WriteString(buildSystemPrompt(e.Paths, e.Config))
	b.WriteString("\n")

	if section := buildSkillsSection(eligible, e.skillData()); section != "" {
		b.WriteString(section)
		b.WriteString("\n")
	}

	blocks := memory.BuildContext(e.Paths.MemoryFile(), e.Paths.MemoryDir(), e.Paths.PendingTasksFile())
	b.WriteString(memory.Render(blocks))

	return b.String()
}

// skillData collects the memory files skill bodies may reference through
// {{memory.<name>}} markers.
func (e *Engine) skillData() skill.InterpolateData {
	mem := make(map[string]string)
	for _, path := range []string{e.Paths.MemoryFile(), e.Paths.PendingTasksFile()} {
		if data, err := os.ReadFile(path); err == nil {
			mem[filepath.Base(path)] = strings.TrimSpace(string(data))
		}
	}
	return skill.InterpolateData{Memory: mem}
}

// buildEndingBlock assembles the final segment of the context window:
// the sanitized user policy (only when Valid) followed by the hardcoded
// security suffix.
func (e *Engine) buildEndingBlock(policyResult policy.Result) string {
	var userPolicy *string
	if policyResult.State == policy.Valid {
		userPolicy = &policyResult.SanitizedContent
	}
	return suffix.BuildEndingSecurityBlock(userPolicy, e.Config.SuffixEnabled)
}

// withEndingBlock appends the ending security block as the last message.
// Nothing may come after it.
func withEndingBlock(messages []llm.Message, endingBlock string) []llm.Message {
	if endingBlock == "" {
		return messages
	}
	return append(messages, llm.Message{Role: "system", Content: endingBlock})
}

func toLLMMessages(sysCtx *session.SystemContext, messages []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	if sysCtx != nil {
		out = append(out, llm.Message{Role: "system", Content: sysCtx.Content})
	}
	for _, m := range messages {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  toLLMToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func toLLMToolCalls(calls []session.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toSessionToolCalls(calls []llm.ToolCall) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = session.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
