// Package notify implements NotificationSink (spec.md §4): a pluggable
// outbound channel for human alerts, grounded directly on the teacher's
// providers.Provider interface and its apprise shell-out implementation.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Message is one outbound human-facing alert.
type Message struct {
	EventType string
	Title     string
	Body      string
	AgentID   string
	SessionID string
	BranchID  string
	Config    map[string]interface{}
}

// Provider is the pluggable outbound channel contract (spec.md §4).
type Provider interface {
	Available() bool
	Validate(config map[string]interface{}) error
	Send(ctx context.Context, message Message) error
}

// Sink fans a Message out to every configured Provider, continuing past
// individual provider failures so one broken channel never blocks another.
type Sink struct {
	providers []Provider
}

// NewSink returns a Sink that delivers to every given provider.
func NewSink(providers ...Provider) *Sink {
	return &Sink{providers: providers}
}

// Notify delivers message to every available provider, returning the first
// error encountered (after attempting all of them).
func (s *Sink) Notify(ctx context.Context, msg Message) error {
	var firstErr error
	for _, p := range s.providers {
		if !p.Available() {
			continue
		}
		if err := p.Send(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AppriseProvider shells out to the `apprise` CLI, grounded verbatim on the
// teacher's providers.AppriseProvider.
type AppriseProvider struct{}

// NewAppriseProvider returns a Provider backed by the apprise CLI.
func NewAppriseProvider() *AppriseProvider { return &AppriseProvider{} }

func (p *AppriseProvider) Available() bool {
	_, err := exec.LookPath("apprise")
	return err == nil
}

func (p *AppriseProvider) Validate(config map[string]interface{}) error {
	_, err := parseAppriseURLs(config)
	return err
}

func (p *AppriseProvider) Send(ctx context.Context, message Message) error {
	if !p.Available() {
		return fmt.Errorf("apprise not installed")
	}
	urls, err := parseAppriseURLs(message.Config)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("apprise urls not configured")
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	args := []string{"-t", message.Title, "-b", message.Body}
	args = append(args, urls...)
	cmd := exec.CommandContext(timeoutCtx, "apprise", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apprise failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func parseAppriseURLs(config map[string]interface{}) ([]string, error) {
	if config == nil {
		return nil, fmt.Errorf("apprise config missing")
	}
	raw, ok := config["urls"]
	if !ok {
		return nil, fmt.Errorf("apprise urls missing")
	}
	switch value := raw.(type) {
	case []string:
		return value, nil
	case []interface{}:
		urls := make([]string, 0, len(value))
		for _, item := range value {
			text, ok := item.(string)
			if ok && strings.TrimSpace(text) != "" {
				urls = append(urls, strings.TrimSpace(text))
			}
		}
		return urls, nil
	case string:
		var urls []string
		for _, part := range strings.Split(value, "\n") {
			part = strings.TrimSpace(part)
			if part != "" {
				urls = append(urls, part)
			}
		}
		return urls, nil
	default:
		return nil, fmt.Errorf("apprise urls must be a list of strings")
	}
}

// NoneProvider discards every message; used when no notification channel is
// configured so NotificationSink.Notify is always safe to call.
type NoneProvider struct{}

// NewNoneProvider returns a Provider that never sends anything.
func NewNoneProvider() *NoneProvider { return &NoneProvider{} }

func (p *NoneProvider) Available() bool                       { return true }
func (p *NoneProvider) Validate(map[string]interface{}) error { return nil }
func (p *NoneProvider) Send(context.Context, Message) error   { return nil }
