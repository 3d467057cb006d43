package capture

import (
	"context"
	"strings"

	"github.com/kandev/orka/internal/domain"
	"github.com/kandev/orka/internal/mux"
	"github.com/tuzig/vt10x"
)

// Engine is the CaptureEngine: it asks a mux.Driver for a pane's scrollback
// and turns it into a structured TerminalState (spec.md §4.7). A vt10x
// virtual terminal replays the raw capture so classification sees the same
// rendered grid the human would instead of raw escape sequences, grounded
// on the teacher's StatusTracker.extractTerminalContent.
type Engine struct {
	cols, rows int
}

// NewEngine returns an Engine sized to the viewer's default terminal
// geometry (80x24, the teacher's StatusTracker default).
func NewEngine(cols, rows int) *Engine {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Engine{cols: cols, rows: rows}
}

// Capture fetches lastN lines from paneID via driver and classifies them.
func (e *Engine) Capture(ctx context.Context, driver mux.Driver, paneID string, lastN int) (domain.TerminalState, error) {
	if lastN <= 0 {
		lastN = 200
	}
	raw, err := driver.CapturePane(ctx, paneID, lastN)
	if err != nil {
		return domain.TerminalState{}, err
	}
	return e.ClassifyRaw(raw), nil
}

// ClassifyRaw replays raw pane output through a vt10x virtual terminal and
// classifies the resulting screen.
func (e *Engine) ClassifyRaw(raw string) domain.TerminalState {
	lines, cursorRow := e.render(raw)
	// Blank rows below the last written one are unused screen; they are
	// left out so the classification window ends at the last output line.
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if end == 0 {
		end = len(lines)
	}
	class, promptText := Classify(lines[:end], 20, cursorRow)

	return domain.TerminalState{
		RawLines:       lines,
		Classified:     class,
		PromptText:     promptText,
		AttentionScore: attentionScore(class),
	}
}

// render feeds raw into a fresh vt10x terminal sized to the engine's
// geometry and extracts the visible, rendered lines plus the terminal's
// cursor row, used by Classify to tell a live prompt from one that has
// scrolled off behind a spinner (spec.md §6.1).
func (e *Engine) render(raw string) ([]string, int) {
	term := vt10x.New(vt10x.WithSize(e.cols, e.rows))
	_, _ = term.Write([]byte(raw))

	lines := make([]string, e.rows)
	for row := 0; row < e.rows; row++ {
		var chars []rune
		for col := 0; col < e.cols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = strings.TrimRight(string(chars), " ")
	}
	return lines, term.Cursor().Y
}

// attentionScore maps a classification to a [0,1] urgency score used by
// AgentRuntime's watchdog to decide whether a branch deserves a poll.
func attentionScore(class domain.TerminalClass) float64 {
	switch class {
	case domain.ClassPermissionPrompt:
		return 1.0
	case domain.ClassCrashed:
		return 0.9
	case domain.ClassIdleAwaitingInput:
		return 0.5
	case domain.ClassRunning:
		return 0.1
	default:
		return 0.3
	}
}
