// Package mux wraps the external terminal multiplexer CLI (spec.md §4.1).
// Every shell-out to the multiplexer lives here; callers never see a raw
// exec.Cmd or an escaped shell string.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/kandev/orka/internal/common/apperr"
	"golang.org/x/sync/singleflight"
)

// Pane describes one multiplexer pane as reported by listPanes.
type Pane struct {
	ID    string
	Title string
	PID   int
}

// Key is one of the enumerated control characters sendKeys can encode,
// chosen instead of injecting raw escape sequences (spec.md §4.1).
type Key int

const (
	KeyEnter Key = iota
	KeyCtrlC
)

// Driver is the typed contract over the multiplexer CLI (spec.md §4.1).
type Driver interface {
	NewSession(ctx context.Context, name, cwd, initialCmd string) (paneID string, err error)
	SplitPane(ctx context.Context, parentPaneID string, vertical bool) (paneID string, err error)
	SendKeys(ctx context.Context, paneID, text string, pressEnter bool) error
	SendKey(ctx context.Context, paneID string, key Key) error
	CapturePane(ctx context.Context, paneID string, lastN int) (string, error)
	ListPanes(ctx context.Context, sessionName string) ([]Pane, error)
	SelectPane(ctx context.Context, paneID string) error
	KillPane(ctx context.Context, paneID string) error
	KillSession(ctx context.Context, name string) error
	SessionExists(ctx context.Context, name string) (bool, error)
	ActivePaneOf(ctx context.Context, sessionName string) (string, error)
}

// validName rejects multiplexer session/pane names that could be used to
// smuggle extra arguments or option-looking strings into the CLI.
var validName = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// TmuxDriver implements Driver by shelling out to the tmux(1) binary.
// NewSession and KillSession are serialized per session name; SplitPane,
// SendKeys, SendKey and KillPane are serialized per pane ID, so calls on
// two panes of one session, or a pane call and KillSession, are not
// serialized against each other. CapturePane, ListPanes, SelectPane,
// SessionExists and ActivePaneOf take no lock.
//
// The serialization strategy mirrors the keyed-mutex idiom in the teacher's
// worktree.Manager.getRepoLock: a map of per-key mutexes with reference
// counting, so unrelated keys never block each other.
type TmuxDriver struct {
	binary string

	mu    sync.Mutex
	locks map[string]*sessionLock

	// creates wraps the new-session invocation in a singleflight.Group
	// keyed by name. NewSession calls it while holding that name's lock, so
	// two calls for one name run one after the other and are never merged;
	// the second reaches tmux and gets its duplicate-session error.
	creates singleflight.Group
}

type sessionLock struct {
	mu       sync.Mutex
	refCount int
}

// NewTmuxDriver returns a Driver backed by the given tmux-compatible binary
// (absolute path or one resolvable via PATH).
func NewTmuxDriver(binary string) *TmuxDriver {
	if binary == "" {
		binary = "tmux"
	}
	return &TmuxDriver{binary: binary, locks: make(map[string]*sessionLock)}
}

func (d *TmuxDriver) lockFor(key string) func() {
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &sessionLock{}
		d.locks[key] = l
	}
	l.refCount++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refCount--
		if l.refCount == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

// sessionKeyOf derives the serialization key from a pane ID. Tmux pane IDs
// are global (e.g. "%12"), so we fall back to the pane ID itself when the
// owning session name is not supplied by the caller.
func sessionKeyOf(nameOrPaneID string) string {
	return nameOrPaneID
}

func (d *TmuxDriver) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func classifyTmuxError(stderr string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "no such session") || strings.Contains(msg, "can't find pane") || strings.Contains(msg, "no such pane"):
		return apperr.NotFound("mux target", msg)
	case strings.Contains(msg, "duplicate session"):
		return apperr.AlreadyExists("mux session", msg)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "executable file not found"):
		return apperr.BackendUnavailable("mux", err)
	default:
		return &apperr.AppError{Code: "PROTOCOL_ERROR", Message: fmt.Sprintf("mux: %s", msg), HTTPStatus: 502, Err: err}
	}
}

func validateName(name string) error {
	if !validName.MatchString(name) {
		return apperr.Validation("name", "must match "+validName.String())
	}
	return nil
}

// NewSession creates a new mux session named name, running initialCmd in cwd,
// and returns the ID of its sole pane.
func (d *TmuxDriver) NewSession(ctx context.Context, name, cwd, initialCmd string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	unlock := d.lockFor(name)
	defer unlock()

	v, err, _ := d.creates.Do(name, func() (interface{}, error) {
		args := []string{"new-session", "-d", "-P", "-F", "#{pane_id}", "-s", name, "-c", cwd}
		if initialCmd != "" {
			args = append(args, initialCmd)
		}
		out, errOut, err := d.run(ctx, args...)
		if err != nil {
			return "", classifyTmuxError(errOut, err)
		}
		return strings.TrimSpace(out), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SplitPane splits parentPaneID and returns the new pane's ID.
func (d *TmuxDriver) SplitPane(ctx context.Context, parentPaneID string, vertical bool) (string, error) {
	unlock := d.lockFor(sessionKeyOf(parentPaneID))
	defer unlock()

	flag := "-h"
	if vertical {
		flag = "-v"
	}
	out, errOut, err := d.run(ctx, "split-window", flag, "-d", "-P", "-F", "#{pane_id}", "-t", parentPaneID)
	if err != nil {
		return "", classifyTmuxError(errOut, err)
	}
	return strings.TrimSpace(out), nil
}

// SendKeys types text into paneID, optionally followed by Enter.
func (d *TmuxDriver) SendKeys(ctx context.Context, paneID, text string, pressEnter bool) error {
	unlock := d.lockFor(sessionKeyOf(paneID))
	defer unlock()

	args := []string{"send-keys", "-t", paneID, "--", text}
	if pressEnter {
		args = append(args, "Enter")
	}
	_, errOut, err := d.run(ctx, args...)
	return classifyTmuxError(errOut, err)
}

// SendKey sends a single enumerated control character (Enter, Ctrl+C) to
// paneID. Control characters are never spliced into free-text SendKeys
// calls — this is the only path that emits them (spec.md §4.1).
func (d *TmuxDriver) SendKey(ctx context.Context, paneID string, key Key) error {
	unlock := d.lockFor(sessionKeyOf(paneID))
	defer unlock()

	var keyName string
	switch key {
	case KeyEnter:
		keyName = "Enter"
	case KeyCtrlC:
		keyName = "C-c"
	default:
		return apperr.Validation("key", "unknown control key")
	}
	_, errOut, err := d.run(ctx, "send-keys", "-t", paneID, keyName)
	return classifyTmuxError(errOut, err)
}

// CapturePane returns the last lastN lines of paneID's scrollback.
func (d *TmuxDriver) CapturePane(ctx context.Context, paneID string, lastN int) (string, error) {
	if lastN <= 0 {
		lastN = 200
	}
	out, errOut, err := d.run(ctx, "capture-pane", "-p", "-t", paneID, "-S", fmt.Sprintf("-%d", lastN))
	if err != nil {
		return "", classifyTmuxError(errOut, err)
	}
	return out, nil
}

// ListPanes lists every pane belonging to sessionName.
func (d *TmuxDriver) ListPanes(ctx context.Context, sessionName string) ([]Pane, error) {
	out, errOut, err := d.run(ctx, "list-panes", "-t", sessionName, "-F", "#{pane_id}\t#{pane_title}\t#{pane_pid}")
	if err != nil {
		return nil, classifyTmuxError(errOut, err)
	}
	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		var pid int
		fmt.Sscanf(fields[2], "%d", &pid)
		panes = append(panes, Pane{ID: fields[0], Title: fields[1], PID: pid})
	}
	return panes, nil
}

// SelectPane focuses paneID within its window.
func (d *TmuxDriver) SelectPane(ctx context.Context, paneID string) error {
	_, errOut, err := d.run(ctx, "select-pane", "-t", paneID)
	return classifyTmuxError(errOut, err)
}

// KillPane destroys paneID.
func (d *TmuxDriver) KillPane(ctx context.Context, paneID string) error {
	unlock := d.lockFor(sessionKeyOf(paneID))
	defer unlock()

	_, errOut, err := d.run(ctx, "kill-pane", "-t", paneID)
	return classifyTmuxError(errOut, err)
}

// KillSession destroys the whole mux session named name.
func (d *TmuxDriver) KillSession(ctx context.Context, name string) error {
	unlock := d.lockFor(name)
	defer unlock()

	_, errOut, err := d.run(ctx, "kill-session", "-t", name)
	return classifyTmuxError(errOut, err)
}

// SessionExists reports whether a mux session named name is currently live.
func (d *TmuxDriver) SessionExists(ctx context.Context, name string) (bool, error) {
	_, errOut, err := d.run(ctx, "has-session", "-t", name)
	if err == nil {
		return true, nil
	}
	if apperr.Is(classifyTmuxError(errOut, err), apperr.CodeNotFound) {
		return false, nil
	}
	return false, classifyTmuxError(errOut, err)
}

// ActivePaneOf returns the currently-focused pane of sessionName.
func (d *TmuxDriver) ActivePaneOf(ctx context.Context, sessionName string) (string, error) {
	out, errOut, err := d.run(ctx, "display-message", "-p", "-t", sessionName, "#{pane_id}")
	if err != nil {
		return "", classifyTmuxError(errOut, err)
	}
	return strings.TrimSpace(out), nil
}
