// Package domain holds the shared entity types described in spec.md §3,
// used across orka's packages (branch trees, session management, agent
// supervision, persistence).
package domain

import "time"

// SessionStatus is the lifecycle status of a Session (spec.md §3).
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionSaved  SessionStatus = "saved"
	SessionClosed SessionStatus = "closed"
)

// BranchStatus is the lifecycle status of a Branch (spec.md §3).
type BranchStatus string

const (
	BranchActive BranchStatus = "active"
	BranchSaved  BranchStatus = "saved"
	BranchClosed BranchStatus = "closed"
	BranchMerged BranchStatus = "merged"
)

// IsTerminal reports whether the branch can no longer be selected or transitioned.
func (s BranchStatus) IsTerminal() bool {
	return s == BranchClosed || s == BranchMerged
}

// Project identifies a registered filesystem directory (spec.md §3).
type Project struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registeredAt"`
	Version      int       `json:"version"`
}

// Branch is a node in a Session's fork tree (spec.md §3).
type Branch struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"sessionId"`
	Name           string       `json:"name"`
	ParentID       *string      `json:"parentId"` // nil denotes the main branch
	Status         BranchStatus `json:"status"`
	MuxPaneID      string       `json:"muxPaneId"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastActivity   time.Time    `json:"lastActivity"`
	TranscriptPath string       `json:"transcriptPath"`
}

// IsMain reports whether this branch is the session's root branch.
func (b *Branch) IsMain() bool { return b.ParentID == nil }

// Session is one top-level AI CLI conversation bound to a project directory
// (spec.md §3).
type Session struct {
	ID             string        `json:"id"`
	ProjectPath    string        `json:"projectPath"`
	Name           string        `json:"name"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivity   time.Time     `json:"lastActivity"`
	MuxSessionName string        `json:"muxSessionName"`
	ViewerPort     *int          `json:"viewerPort"`
	Main           *Branch       `json:"main"`
	Forks          []*Branch     `json:"forks"`
}

// AllBranches returns main plus every fork, in a stable order (main first).
func (s *Session) AllBranches() []*Branch {
	out := make([]*Branch, 0, len(s.Forks)+1)
	if s.Main != nil {
		out = append(out, s.Main)
	}
	out = append(out, s.Forks...)
	return out
}

// FindBranch returns the branch with the given ID, or nil.
func (s *Session) FindBranch(id string) *Branch {
	for _, b := range s.AllBranches() {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// HookKind enumerates the AI CLI's outbound lifecycle hook events (spec.md §3).
type HookKind string

const (
	HookStop         HookKind = "Stop"
	HookNotification HookKind = "Notification"
	HookSubagentStop HookKind = "SubagentStop"
	HookPreCompact   HookKind = "PreCompact"
	HookSessionStart HookKind = "SessionStart"
	HookSessionEnd   HookKind = "SessionEnd"
	HookPreToolUse   HookKind = "PreToolUse"
	HookPostToolUse  HookKind = "PostToolUse"
)

// IsValid reports whether k is one of the known hook kinds.
func (k HookKind) IsValid() bool {
	switch k {
	case HookStop, HookNotification, HookSubagentStop, HookPreCompact,
		HookSessionStart, HookSessionEnd, HookPreToolUse, HookPostToolUse:
		return true
	}
	return false
}

// DecisionAction enumerates the fixed set of actions a DecisionPolicy may return.
type DecisionAction string

const (
	ActionRespond     DecisionAction = "respond"
	ActionApprove     DecisionAction = "approve"
	ActionReject      DecisionAction = "reject"
	ActionWait        DecisionAction = "wait"
	ActionRequestHelp DecisionAction = "request_help"
	ActionCompact     DecisionAction = "compact"
	ActionInterrupt   DecisionAction = "interrupt"
)

// IsValid reports whether a is one of the known decision actions.
func (a DecisionAction) IsValid() bool {
	switch a {
	case ActionRespond, ActionApprove, ActionReject, ActionWait,
		ActionRequestHelp, ActionCompact, ActionInterrupt:
		return true
	}
	return false
}

// Decision is one policy verdict (spec.md §3).
type Decision struct {
	Action     DecisionAction `json:"action"`
	Response   string         `json:"response,omitempty"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
}

// TerminalClass classifies a captured terminal screen (spec.md §3).
type TerminalClass string

const (
	ClassIdleAwaitingInput TerminalClass = "idle_awaiting_input"
	ClassRunning           TerminalClass = "running"
	ClassPermissionPrompt  TerminalClass = "permission_prompt"
	ClassCrashed           TerminalClass = "crashed"
	ClassUnknown           TerminalClass = "unknown"
)

// TerminalState is the structured result of a pane capture (spec.md §3).
type TerminalState struct {
	RawLines       []string      `json:"rawLines"`
	Classified     TerminalClass `json:"classified"`
	PromptText     string        `json:"promptText,omitempty"`
	AttentionScore float64       `json:"attentionScore"`
}

// AgentStatus is the lifecycle status of an Agent (spec.md §3).
type AgentStatus string

const (
	AgentIdle         AgentStatus = "idle"
	AgentActive       AgentStatus = "active"
	AgentPaused       AgentStatus = "paused"
	AgentWaitingHuman AgentStatus = "waiting_human"
	AgentError        AgentStatus = "error"
)

// AgentCaps bounds an agent's autonomy (spec.md §3).
type AgentCaps struct {
	MaxConsecutiveResponses int     `json:"maxConsecutiveResponses"`
	ActionCooldownMs        int64   `json:"actionCooldownMs"`
	PollIntervalMs          int64   `json:"pollIntervalMs"`
	AttentionThreshold      float64 `json:"attentionThreshold"`
	DecisionHistorySize     int     `json:"decisionHistorySize"`
}

// AgentConnection binds an Agent to a live branch pane (spec.md §3).
type AgentConnection struct {
	ProjectPath string `json:"projectPath"`
	SessionID   string `json:"sessionId"`
	BranchID    string `json:"branchId"`
	MuxPaneID   string `json:"muxPaneId"`
}

// Agent is a policy-driven autonomous controller attached to one branch (spec.md §3).
type Agent struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	MasterPrompt         string            `json:"masterPrompt"`
	HookEvents           map[HookKind]bool `json:"hookEvents"`
	AutoApprove          bool              `json:"autoApprove"`
	Caps                 AgentCaps         `json:"caps"`
	Connection           *AgentConnection  `json:"connection,omitempty"`
	Status               AgentStatus       `json:"status"`
	ConsecutiveResponses int               `json:"consecutiveResponses"`
	DecisionHistory      []Decision        `json:"decisionHistory"`
	CreatedAt            time.Time         `json:"createdAt"`
	LastActivity         time.Time         `json:"lastActivity"`
	LastError            string            `json:"lastError,omitempty"`
}

// LogLevel enumerates AgentLogEvent severities.
type LogLevel string

const (
	LogInfo   LogLevel = "info"
	LogWarn   LogLevel = "warn"
	LogError  LogLevel = "error"
	LogDebug  LogLevel = "debug"
	LogAction LogLevel = "action"
)

// CyclePhase enumerates an AgentRuntime cycle's named phases (spec.md §4.9).
type CyclePhase string

const (
	PhaseCapture CyclePhase = "capture"
	PhaseAnalyze CyclePhase = "analyze"
	PhaseDecide  CyclePhase = "decide"
	PhaseExecute CyclePhase = "execute"
	PhaseDone    CyclePhase = "done"
)

// AgentLogEvent is one structured entry in an agent's append-only log (spec.md §3, §9).
// Details is a schemaless map — the "dynamic event payload" escape hatch
// described in spec.md §9, serialized as JSON.
type AgentLogEvent struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agentId"`
	CycleID   string                 `json:"cycleId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Phase     CyclePhase             `json:"phase,omitempty"`
}
