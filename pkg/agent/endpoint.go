package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// httpStatusError marks non-2xx endpoint replies so the retry policy can
// distinguish retriable statuses.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("agent: endpoint http %d: %s", e.status, e.body)
}

// EndpointClient posts prompts to a self-hosted HTTP agent. The endpoint
// receives {system, user, config} and replies {text, prompt_tokens,
// completion_tokens}.
type EndpointClient struct {
	provider   *ProviderConfig
	httpClient *http.Client
	retry      *retryHandler
}

// NewEndpointClient constructs a client for a self-hosted agent endpoint.
func NewEndpointClient(provider *ProviderConfig, opts ...EndpointOption) (*EndpointClient, error) {
	if provider == nil {
		return nil, errors.New("agent: provider config is required")
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return nil, errors.New("agent: endpoint base_url is required")
	}
	c := &EndpointClient{
		provider:   provider,
		httpClient: &http.Client{Timeout: provider.Timeout},
		retry:      newRetryHandler(provider.MaxRetries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EndpointOption customises the client.
type EndpointOption func(*EndpointClient)

// WithEndpointHTTPClient replaces the default HTTP client.
func WithEndpointHTTPClient(client *http.Client) EndpointOption {
	return func(c *EndpointClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type endpointRequest struct {
	System string         `json:"system"`
	User   string         `json:"user"`
	Config map[string]any `json:"config,omitempty"`
}

type endpointResponse struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Invoke posts the prompt pair and decodes the endpoint's reply.
func (c *EndpointClient) Invoke(ctx context.Context, system, user string, cfg InvokeConfig) (*Reply, error) {
	payload := endpointRequest{System: system, User: user}
	if cfg.Model != "" || cfg.Temperature != nil || cfg.MaxTokens != nil {
		payload.Config = map[string]any{}
		if cfg.Model != "" {
			payload.Config["model"] = cfg.Model
		}
		if cfg.Temperature != nil {
			payload.Config["temperature"] = *cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			payload.Config["max_tokens"] = *cfg.MaxTokens
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("agent: encode endpoint request: %w", err)
	}

	var decoded endpointResponse
	err = c.retry.do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.BaseURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if c.provider.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.provider.APIKey)
		}

		resp, callErr := c.httpClient.Do(req)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return &httpStatusError{status: resp.StatusCode, body: string(snippet)}
		}
		return json.NewDecoder(resp.Body).Decode(&decoded)
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(decoded.Text) == "" {
		return nil, errors.New("agent: endpoint returned empty text")
	}

	return &Reply{
		Text:             decoded.Text,
		PromptTokens:     decoded.PromptTokens,
		CompletionTokens: decoded.CompletionTokens,
	}, nil
}
