// Package llmclient provides the concrete language-model adapters behind
// the llm.Client capability set: an OpenAI-compatible cloud client and a
// local Ollama-style HTTP client, routed by model name so a fallback
// chain can mix both.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// LocalPrefix marks a model name as served by the local endpoint, e.g.
// "local:llama3".
const LocalPrefix = "local:"

// OpenAI adapts the OpenAI chat completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds an OpenAI adapter. baseURL is optional and supports
// OpenAI-compatible gateways.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Generate sends prompt to model and returns the raw completion text.
func (o *OpenAI) Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewTransientExternal("model returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			return apperrors.NewPermission("model endpoint rejected credentials", err)
		case apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return apperrors.NewTransientExternal("model endpoint unavailable", err)
		default:
			return apperrors.NewInternal("model call failed", err)
		}
	}
	// Deadline, cancellation, and transport errors all advance the
	// fallback chain.
	return apperrors.NewTransientExternal("model call failed", err)
}

// Local talks to an Ollama-compatible generate endpoint over plain HTTP.
type Local struct {
	BaseURL string
	HTTP    *http.Client
}

// NewLocal builds a Local adapter for an Ollama-style server.
func NewLocal(baseURL string) *Local {
	return &Local{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type localResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate sends prompt to the local server and returns its response.
func (l *Local) Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(localRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", apperrors.NewInternal("failed to encode local model request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewInternal("failed to build local model request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.HTTP.Do(req)
	if err != nil {
		return "", apperrors.NewTransientExternal("local model unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewTransientExternal("failed to read local model response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewTransientExternal(fmt.Sprintf("local model returned %d", resp.StatusCode), nil)
	}

	var parsed localResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperrors.NewTransientExternal("unparseable local model response", err)
	}
	if parsed.Error != "" {
		return "", apperrors.NewTransientExternal(fmt.Sprintf("local model error: %s", parsed.Error), nil)
	}
	return parsed.Response, nil
}

// Router dispatches each Generate call to the local or cloud adapter
// based on the model name's prefix, so one fallback chain can degrade
// from cloud to local models.
type Router struct {
	Cloud interface {
		Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error)
	}
	Local interface {
		Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error)
	}
}

// Generate routes by model prefix, stripping the local marker before the
// call.
func (r Router) Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error) {
	if strings.HasPrefix(model, LocalPrefix) {
		if r.Local == nil {
			return "", apperrors.NewConfig("models", fmt.Sprintf("model %q requires a local endpoint but none is configured", model))
		}
		return r.Local.Generate(ctx, prompt, strings.TrimPrefix(model, LocalPrefix), deadline)
	}
	if r.Cloud == nil {
		return "", apperrors.NewConfig("models", fmt.Sprintf("model %q requires a cloud endpoint but none is configured", model))
	}
	return r.Cloud.Generate(ctx, prompt, model, deadline)
}
