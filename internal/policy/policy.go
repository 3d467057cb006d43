// Package policy implements DecisionPolicy (spec.md §4.8): given a terminal
// state, recent decision history, and an agent's master prompt, produce a
// typed Decision by calling an external chat-completion backend. The client
// wrapper shape (typed Config, constructor) follows the teacher's
// pkg/copilot.Client, but talks a plain JSON chat-completion contract over
// net/http rather than a specific SDK, since the spec's policy wire format
// doesn't match any one vendor's session protocol.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/domain"
	"go.uber.org/zap"
)

// Policy is the typed contract a DecisionPolicy implementation satisfies.
type Policy interface {
	Decide(ctx context.Context, req Request) (domain.Decision, error)
}

// Request bundles everything a policy needs to produce one decision.
type Request struct {
	MasterPrompt    string
	TerminalState   domain.TerminalState
	DecisionHistory []domain.Decision
}

// Config configures an HTTPPolicy.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Model == "" {
		c.Model = "gpt-4.1"
	}
	return c
}

// HTTPPolicy calls a remote chat-completion endpoint and parses its reply
// into a Decision, tolerating malformed replies per spec.md §4.8.
type HTTPPolicy struct {
	cfg    Config
	client *http.Client
	logger *logger.Logger
}

// NewHTTPPolicy returns a Policy backed by a remote chat-completion endpoint.
func NewHTTPPolicy(cfg Config, log *logger.Logger) *HTTPPolicy {
	if log == nil {
		log = logger.Default()
	}
	cfg = cfg.withDefaults()
	return &HTTPPolicy{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.WithFields(zap.String("component", "policy")),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// rawDecision is the decision shape the backend is asked to reply with,
// inside the chat completion's message content.
type rawDecision struct {
	Action     string  `json:"action"`
	Response   string  `json:"response"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Decide sends req to the configured endpoint and parses the reply. Any
// transport error, non-2xx status, or unparseable body is wrapped as
// apperr.PolicyProtocolError so callers can fall back to {action: wait}.
func (p *HTTPPolicy) Decide(ctx context.Context, req Request) (domain.Decision, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.MasterPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature: 0,
	})
	if err != nil {
		return domain.Decision{}, apperr.PolicyProtocolError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, apperr.PolicyProtocolError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.Decision{}, apperr.PolicyProtocolError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Decision{}, apperr.PolicyProtocolError(fmt.Errorf("policy backend returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Decision{}, apperr.PolicyProtocolError(err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Decision{}, apperr.PolicyProtocolError(fmt.Errorf("policy backend returned no choices"))
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &raw); err != nil {
		return domain.Decision{}, apperr.PolicyProtocolError(err)
	}

	action := domain.DecisionAction(raw.Action)
	if !action.IsValid() {
		return domain.Decision{}, apperr.PolicyProtocolError(fmt.Errorf("policy backend returned unknown action %q", raw.Action))
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return domain.Decision{}, apperr.PolicyProtocolError(fmt.Errorf("policy backend returned out-of-range confidence %v", raw.Confidence))
	}

	return domain.Decision{
		Action:     action,
		Response:   raw.Response,
		Reason:     raw.Reason,
		Confidence: raw.Confidence,
		Timestamp:  time.Now(),
	}, nil
}

// buildPrompt renders the terminal state and recent history into the user
// message sent alongside the agent's master prompt.
func buildPrompt(req Request) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Terminal classification: %s\n", req.TerminalState.Classified)
	if req.TerminalState.PromptText != "" {
		fmt.Fprintf(&b, "Prompt text: %s\n", req.TerminalState.PromptText)
	}
	fmt.Fprintf(&b, "Recent screen:\n%s\n", lastLines(req.TerminalState.RawLines, 40))
	if len(req.DecisionHistory) > 0 {
		fmt.Fprintf(&b, "\nRecent decisions:\n")
		for _, d := range req.DecisionHistory {
			fmt.Fprintf(&b, "- %s: %s\n", d.Action, d.Reason)
		}
	}
	fmt.Fprintf(&b, "\nReply with a single JSON object: {\"action\":..., \"response\":..., \"reason\":..., \"confidence\":...}\n")
	return b.String()
}

func lastLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// WaitDecision is the substitute decision used by AgentRuntime whenever the
// policy returns PolicyProtocolError (spec.md §4.8, §8 S6).
func WaitDecision() domain.Decision {
	return domain.Decision{Action: domain.ActionWait, Reason: "policy protocol error", Timestamp: time.Now()}
}
