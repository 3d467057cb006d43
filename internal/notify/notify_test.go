package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkDeliversToAvailableProviders(t *testing.T) {
	fake := NewFakeProvider()
	sink := NewSink(fake, NewNoneProvider())

	err := sink.Notify(context.Background(), Message{Title: "cap breach", Body: "agent needs help"})
	require.NoError(t, err)

	msgs := fake.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "cap breach", msgs[0].Title)
}

func TestAppriseProviderValidateRejectsMissingURLs(t *testing.T) {
	p := NewAppriseProvider()
	err := p.Validate(map[string]interface{}{})
	assert.Error(t, err)
}

func TestAppriseProviderValidateAcceptsStringList(t *testing.T) {
	p := NewAppriseProvider()
	err := p.Validate(map[string]interface{}{"urls": []string{"mailto://user@example.com"}})
	assert.NoError(t, err)
}
