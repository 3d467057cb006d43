package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReplyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPPolicyParsesValidDecision(t *testing.T) {
	srv := httptest.NewServer(chatReplyWith(`{"action":"respond","response":"yes, continue","reason":"looks safe","confidence":0.9}`))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	decision, err := p.Decide(context.Background(), Request{MasterPrompt: "watch for approvals"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRespond, decision.Action)
	assert.Equal(t, "yes, continue", decision.Response)
}

func TestHTTPPolicyMalformedReplyIsPolicyProtocolError(t *testing.T) {
	srv := httptest.NewServer(chatReplyWith("not json at all"))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyProtocolError))
}

func TestHTTPPolicyUnknownActionIsPolicyProtocolError(t *testing.T) {
	srv := httptest.NewServer(chatReplyWith(`{"action":"teleport"}`))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyProtocolError))
}

func TestHTTPPolicyOutOfRangeConfidenceIsPolicyProtocolError(t *testing.T) {
	srv := httptest.NewServer(chatReplyWith(`{"action":"respond","response":"ok","confidence":5.0}`))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyProtocolError))
}

func TestHTTPPolicyNegativeConfidenceIsPolicyProtocolError(t *testing.T) {
	srv := httptest.NewServer(chatReplyWith(`{"action":"wait","confidence":-1}`))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyProtocolError))
}

func TestHTTPPolicyNon2xxIsPolicyProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPolicy(Config{Endpoint: srv.URL}, nil)
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyProtocolError))
}

func TestFakePolicyQueuesDecisionsInOrder(t *testing.T) {
	f := NewFakePolicy()
	f.Enqueue(domain.Decision{Action: domain.ActionRespond, Response: "ok"})
	f.Enqueue(domain.Decision{Action: domain.ActionWait})

	d1, err := f.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRespond, d1.Action)

	d2, err := f.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWait, d2.Action)

	assert.Equal(t, 2, f.Calls())
}
