package mux

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/orka/internal/common/apperr"
)

// FakePane is the in-memory state of one pane in FakeDriver.
type FakePane struct {
	ID        string
	SessionID string
	Title     string
	Alive     bool
	SentKeys  []string
	Capture   string
}

// FakeDriver is an in-memory Driver used by tests that never shell out to a
// real multiplexer (spec.md §4.8 calls for this style of fake throughout).
type FakeDriver struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]bool
	panes    map[string]*FakePane
	active   map[string]string // sessionName -> paneID
}

// NewFakeDriver returns an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		sessions: make(map[string]bool),
		panes:    make(map[string]*FakePane),
		active:   make(map[string]string),
	}
}

func (f *FakeDriver) nextID() string {
	f.seq++
	return fmt.Sprintf("%%%d", f.seq)
}

func (f *FakeDriver) NewSession(_ context.Context, name, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[name] {
		return "", apperr.AlreadyExists("mux session", name)
	}
	f.sessions[name] = true
	id := f.nextID()
	f.panes[id] = &FakePane{ID: id, SessionID: name, Alive: true}
	f.active[name] = id
	return id, nil
}

func (f *FakeDriver) SplitPane(_ context.Context, parentPaneID string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.panes[parentPaneID]
	if !ok || !parent.Alive {
		return "", apperr.NotFound("pane", parentPaneID)
	}
	id := f.nextID()
	f.panes[id] = &FakePane{ID: id, SessionID: parent.SessionID, Alive: true}
	return id, nil
}

func (f *FakeDriver) SendKeys(_ context.Context, paneID, text string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok || !p.Alive {
		return apperr.NotFound("pane", paneID)
	}
	p.SentKeys = append(p.SentKeys, text)
	if pressEnter {
		p.Capture += text + "\n"
	}
	return nil
}

func (f *FakeDriver) SendKey(_ context.Context, paneID string, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok || !p.Alive {
		return apperr.NotFound("pane", paneID)
	}
	label := map[Key]string{KeyEnter: "<Enter>", KeyCtrlC: "<C-c>"}[key]
	p.SentKeys = append(p.SentKeys, label)
	return nil
}

func (f *FakeDriver) CapturePane(_ context.Context, paneID string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok {
		return "", apperr.NotFound("pane", paneID)
	}
	return p.Capture, nil
}

func (f *FakeDriver) ListPanes(_ context.Context, sessionName string) ([]Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[sessionName] {
		return nil, apperr.NotFound("mux session", sessionName)
	}
	var out []Pane
	for _, p := range f.panes {
		if p.SessionID == sessionName && p.Alive {
			out = append(out, Pane{ID: p.ID, Title: p.Title, PID: 1})
		}
	}
	return out, nil
}

func (f *FakeDriver) SelectPane(_ context.Context, paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok || !p.Alive {
		return apperr.NotFound("pane", paneID)
	}
	f.active[p.SessionID] = paneID
	return nil
}

func (f *FakeDriver) KillPane(_ context.Context, paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok {
		return apperr.NotFound("pane", paneID)
	}
	p.Alive = false
	return nil
}

func (f *FakeDriver) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return apperr.NotFound("mux session", name)
	}
	delete(f.sessions, name)
	delete(f.active, name)
	for _, p := range f.panes {
		if p.SessionID == name {
			p.Alive = false
		}
	}
	return nil
}

func (f *FakeDriver) SessionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name], nil
}

func (f *FakeDriver) ActivePaneOf(_ context.Context, sessionName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[sessionName]
	if !ok {
		return "", apperr.NotFound("mux session", sessionName)
	}
	return id, nil
}

// KillPaneExternally simulates the backend killing a pane without orka's
// involvement (spec.md §8 S3 "Drift" scenario).
func (f *FakeDriver) KillPaneExternally(paneID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[paneID]; ok {
		p.Alive = false
	}
}

var _ Driver = (*FakeDriver)(nil)
