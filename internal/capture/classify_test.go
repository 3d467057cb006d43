package capture

import (
	"testing"

	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPermissionPrompt(t *testing.T) {
	lines := []string{
		"Some earlier output",
		"Do you want to create this file? (y/n)",
	}
	class, prompt := Classify(lines, 20, -1)
	assert.Equal(t, domain.ClassPermissionPrompt, class)
	assert.Contains(t, prompt, "Do you want to")
}

func TestClassifyRunning(t *testing.T) {
	lines := []string{
		"✻ Billowing… (ctrl+c to interrupt)",
	}
	class, _ := Classify(lines, 20, -1)
	assert.Equal(t, domain.ClassRunning, class)
}

func TestClassifyCrashed(t *testing.T) {
	lines := []string{
		"Error: connection lost",
	}
	class, _ := Classify(lines, 20, -1)
	assert.Equal(t, domain.ClassCrashed, class)
}

func TestClassifyIdleAwaitingInput(t *testing.T) {
	lines := []string{
		"Type your message",
		"❯ ",
	}
	class, _ := Classify(lines, 20, -1)
	assert.Equal(t, domain.ClassIdleAwaitingInput, class)
}

func TestClassifyUnknownWhenNoHeuristicMatches(t *testing.T) {
	lines := []string{"random text with nothing special"}
	class, _ := Classify(lines, 20, -1)
	assert.Equal(t, domain.ClassUnknown, class)
}

func TestClassifyAcceptsPromptNearCursor(t *testing.T) {
	lines := []string{
		"Do you want to create this file? (y/n)",
		"",
		"",
	}
	class, prompt := Classify(lines, 20, 0)
	assert.Equal(t, domain.ClassPermissionPrompt, class)
	assert.Contains(t, prompt, "Do you want to")
}

func TestClassifyRejectsPromptScrolledAwayFromCursor(t *testing.T) {
	lines := []string{
		"Do you want to create this file? (y/n)",
		"✻ Billowing… (ctrl+c to interrupt)",
		"",
		"",
		"",
		"",
	}
	class, prompt := Classify(lines, 20, 5)
	assert.Equal(t, domain.ClassRunning, class, "cursor far below the stale prompt line must not re-report it as a live prompt")
	assert.Empty(t, prompt)
}
