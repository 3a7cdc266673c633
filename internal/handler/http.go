package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/coordinator"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/swarm"
)

const maxResponseBytes = 8 << 20

// Request headers describing the agent binding
const (
	HeaderAgentID   = "X-Agent-ID"
	HeaderAgentType = "X-Agent-Type"
	HeaderProvider  = "X-Provider"
	HeaderModel     = "X-Model"
	HeaderMode      = "X-Swarm-Mode"
)

// HTTPConfig configures an HTTP endpoint
type HTTPConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

type endpoint struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

func newEndpoint(cfg HTTPConfig, logger *zap.Logger) endpoint {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return endpoint{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// post sends body and decodes a JSON response into out. 4xx responses other
// than 408 and 429 are permanent.
func (e endpoint) post(ctx context.Context, body []byte, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", coordinator.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	e.logger.Debug("Executing HTTP request", zap.String("url", e.cfg.Endpoint))

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return fmt.Errorf("%w: %w", coordinator.ErrPermanent, err)
		}
		return err
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HTTP is a task handler that POSTs the task payload to an endpoint and
// reads a coordinator.Result back
type HTTP struct {
	endpoint
}

// NewHTTP creates an HTTP task handler
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) *HTTP {
	return &HTTP{endpoint: newEndpoint(cfg, logger.Named("http-handler"))}
}

func (h *HTTP) Handle(ctx context.Context, agent *model.AgentInstance, payload json.RawMessage) (*coordinator.Result, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	var res coordinator.Result
	if err := h.post(ctx, payload, agentHeaders(agent, agent.Provider, agent.Model), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HTTPRunner is a swarm runner that POSTs each input to an endpoint and
// reads a swarm.Output back
type HTTPRunner struct {
	endpoint
}

// NewHTTPRunner creates an HTTP swarm runner
func NewHTTPRunner(cfg HTTPConfig, logger *zap.Logger) *HTTPRunner {
	return &HTTPRunner{endpoint: newEndpoint(cfg, logger.Named("http-runner"))}
}

func (r *HTTPRunner) Run(ctx context.Context, a swarm.Assignment, in *swarm.Input) (*swarm.Output, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	headers := agentHeaders(a.Agent, a.Provider, a.Model)
	headers[HeaderMode] = string(in.Mode)

	var out swarm.Output
	if err := r.post(ctx, body, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func agentHeaders(agent *model.AgentInstance, provider, modelName string) map[string]string {
	h := map[string]string{
		HeaderProvider: provider,
		HeaderModel:    modelName,
	}
	if agent != nil {
		h[HeaderAgentID] = agent.ID
		h[HeaderAgentType] = agent.Type
	}
	return h
}
