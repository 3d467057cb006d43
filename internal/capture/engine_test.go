package capture

import (
	"testing"

	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestEngineClassifyRawPlainText(t *testing.T) {
	e := NewEngine(80, 24)
	state := e.ClassifyRaw("Do you want to proceed? (y/n)\r\n")
	assert.Equal(t, domain.ClassPermissionPrompt, state.Classified)
	assert.Greater(t, state.AttentionScore, 0.9)
}

func TestEngineDefaultsGeometry(t *testing.T) {
	e := NewEngine(0, 0)
	assert.Equal(t, 80, e.cols)
	assert.Equal(t, 24, e.rows)
}
