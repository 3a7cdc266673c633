package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/coordinator"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/swarm"
)

var testAgent = &model.AgentInstance{ID: "w1", Type: "writer", Provider: "openai", Model: "gpt-4o", MaxConcurrent: 1}

func TestHTTPHandler(t *testing.T) {
	type request struct {
		method  string
		headers http.Header
		body    []byte
	}
	seen := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- request{method: r.Method, headers: r.Header.Clone(), body: body}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":{"text":"done"},"cost":0.02,"quality":0.9}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{Endpoint: srv.URL, Headers: map[string]string{"Authorization": "Bearer token"}}, zap.NewNop())
	res, err := h.Handle(context.Background(), testAgent, json.RawMessage(`{"prompt":"hi"}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"text":"done"}`, string(res.Output))
	assert.InDelta(t, 0.02, res.Cost, 1e-9)
	assert.InDelta(t, 0.9, res.Quality, 1e-9)

	got := <-seen
	gotHeaders := got.headers
	assert.Equal(t, http.MethodPost, got.method)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(got.body))
	assert.Equal(t, "w1", gotHeaders.Get(HeaderAgentID))
	assert.Equal(t, "writer", gotHeaders.Get(HeaderAgentType))
	assert.Equal(t, "openai", gotHeaders.Get(HeaderProvider))
	assert.Equal(t, "gpt-4o", gotHeaders.Get(HeaderModel))
	assert.Equal(t, "Bearer token", gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestHTTPHandlerStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unprocessable", http.StatusUnprocessableEntity, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"request timeout", http.StatusRequestTimeout, false},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			h := NewHTTP(HTTPConfig{Endpoint: srv.URL}, zap.NewNop())
			_, err := h.Handle(context.Background(), testAgent, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.permanent, errors.Is(err, coordinator.ErrPermanent))
		})
	}
}

func TestHTTPHandlerEmptyAndInvalidBodies(t *testing.T) {
	serve := func(body string) *HTTP {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return NewHTTP(HTTPConfig{Endpoint: srv.URL}, zap.NewNop())
	}

	res, err := serve("").Handle(context.Background(), testAgent, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Output)

	_, err = serve("not json").Handle(context.Background(), testAgent, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, coordinator.ErrPermanent))
}

func TestHTTPHandlerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{Endpoint: srv.URL, Timeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := h.Handle(context.Background(), testAgent, nil)
	require.Error(t, err)
}

func TestHTTPRunner(t *testing.T) {
	type request struct {
		mode     string
		provider string
		in       swarm.Input
	}
	seen := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{mode: r.Header.Get(HeaderMode), provider: r.Header.Get(HeaderProvider)}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req.in))
		seen <- req
		_, _ = w.Write([]byte(`{
			"content": "An outline",
			"quality": {"coherence": 0.9, "relevance": 0.8, "tone": 0.7, "completeness": 0.6},
			"insights": ["keep it short"],
			"subtasks": [{"id": "stats", "agent_type": "analyst"}],
			"cost": 0.01
		}`))
	}))
	defer srv.Close()

	r := NewHTTPRunner(HTTPConfig{Endpoint: srv.URL}, zap.NewNop())
	out, err := r.Run(context.Background(), swarm.Assignment{Agent: testAgent, Provider: "anthropic", Model: "claude"}, &swarm.Input{
		SwarmID:      "s1",
		ContentType:  swarm.ContentEssay,
		Task:         &swarm.Task{ID: "outline", SectionType: "outline", AgentType: "writer"},
		Mode:         swarm.ModePlan,
		Dependencies: map[string]string{"brief": "topic"},
	})
	require.NoError(t, err)

	got := <-seen
	in := got.in
	assert.Equal(t, "plan", got.mode)
	assert.Equal(t, "anthropic", got.provider)
	assert.Equal(t, "s1", in.SwarmID)
	assert.Equal(t, "outline", in.Task.ID)
	assert.Equal(t, "topic", in.Dependencies["brief"])

	assert.Equal(t, "An outline", out.Content)
	assert.InDelta(t, 0.9, out.Quality.Coherence, 1e-9)
	assert.Equal(t, []string{"keep it short"}, out.Insights)
	require.Len(t, out.Subtasks, 1)
	assert.Equal(t, "analyst", out.Subtasks[0].AgentType)
	assert.InDelta(t, 0.01, out.Cost, 1e-9)
}
