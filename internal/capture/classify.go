// Package capture implements the CaptureEngine (spec.md §4.7): turning the
// last N lines of a pane's scrollback into a structured TerminalState.
// Classification is deterministic and line-based, tuned for the AI CLI's
// TUI conventions, grounded on the teacher's agentctl process.ClaudeCodeDetector
// pattern set.
package capture

import (
	"regexp"
	"strings"

	"github.com/kandev/orka/internal/domain"
)

var (
	workingTaskPattern = regexp.MustCompile(
		`^\s*[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+(?:…|\.{2,})\s*\((esc|ctrl\+c)\s+to\s+interrupt`,
	)
	spinnerPattern   = regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`)
	workingMarker    = regexp.MustCompile(`(?i)working…|working\.\.\.`)
	yesNoPattern     = regexp.MustCompile(`(?i)\(y/n\)|\[y/n\]`)
	doYouWantPattern = regexp.MustCompile(`(?i)do\s+you\s+want\s+to\s+`)
	enterToSelect    = regexp.MustCompile(`(?i)enter\s+to\s+select`)
	caretPattern     = regexp.MustCompile(`[>❯]\s*$`)
	crashPatterns    = []string{"connection lost", "process exited", "command not found", "segmentation fault"}
)

// lastNonBlank returns the last non-blank line of lines, trimmed, or "".
func lastNonBlank(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(trimmed) != "" {
			return trimmed
		}
	}
	return ""
}

// cursorProximityRows bounds how far a matched prompt line may sit from the
// cursor's row and still count as the live prompt (spec.md §6.1).
const cursorProximityRows = 2

// Classify applies the deterministic, pure classification heuristics of
// spec.md §4.7 to the last lastM lines of a pane capture. cursorRow is the
// vt10x cursor's row within rawLines, or -1 if unknown (callers that only
// have a line slice, with no live terminal to query, pass -1 and get the
// pre-cursor-aware behavior).
func Classify(rawLines []string, lastM int, cursorRow int) (domain.TerminalClass, string) {
	if lastM <= 0 || lastM > len(rawLines) {
		lastM = len(rawLines)
	}
	offset := len(rawLines) - lastM
	window := rawLines[offset:]
	windowCursorRow := -1
	if cursorRow >= 0 {
		windowCursorRow = cursorRow - offset
	}

	if prompt := detectPermissionPrompt(window, windowCursorRow); prompt != "" {
		return domain.ClassPermissionPrompt, prompt
	}
	if detectCrashed(window) {
		return domain.ClassCrashed, ""
	}
	if detectRunning(window) {
		return domain.ClassRunning, ""
	}
	if detectIdle(window) {
		return domain.ClassIdleAwaitingInput, ""
	}
	return domain.ClassUnknown, ""
}

// detectPermissionPrompt scans lines bottom-up for a prompt pattern. When
// cursorRow is known, a match is only accepted if it sits within
// cursorProximityRows of the cursor: a prompt pattern that scrolled off the
// bottom behind a still-spinning working line leaves the cursor parked well
// above it, which is exactly the stale-match spec.md §6.1 asks us to reject
// rather than report as a live permission prompt.
func detectPermissionPrompt(lines []string, cursorRow int) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")
		if line == "" {
			continue
		}
		switch {
		case enterToSelect.MatchString(line),
			doYouWantPattern.MatchString(line),
			yesNoPattern.MatchString(line):
			if cursorRow >= 0 && abs(i-cursorRow) > cursorProximityRows {
				continue
			}
			return line
		}
	}
	return ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func detectRunning(lines []string) bool {
	for _, line := range lines {
		if workingTaskPattern.MatchString(strings.TrimRight(line, " \t")) {
			return true
		}
		if spinnerPattern.MatchString(line) || workingMarker.MatchString(line) {
			return true
		}
	}
	return false
}

func detectIdle(lines []string) bool {
	last := lastNonBlank(lines)
	if last == "" {
		return false
	}
	return caretPattern.MatchString(last)
}

func detectCrashed(lines []string) bool {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range crashPatterns {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}
