// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API, grounded directly on the teacher's
// features/model/openai adapter and narrowed to strandsflow's simplified
// request/response shape.
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/providererr"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter, satisfied by *openai.Client in production and a fake in tests.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP
// transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Text,
		}
	}
	request := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(resp), nil
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	var text string
	var stop string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		stop = string(resp.Choices[0].FinishReason)
	}
	return &model.Response{
		Text: text,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		StopReason: stop,
	}
}

// classifyError maps an OpenAI SDK error into the shared provider error
// taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := providererr.KindUnknown
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			kind = providererr.KindAuth
		case 429:
			kind = providererr.KindRateLimited
		case 400, 404, 422:
			kind = providererr.KindInvalidRequest
		case 500, 502, 503, 504:
			kind = providererr.KindUnavailable
		}
		return providererr.New("openai", "chat.completions.create", kind, apiErr.Code, apiErr.Message, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := providererr.KindUnavailable
		if reqErr.HTTPStatusCode == 429 {
			kind = providererr.KindRateLimited
		}
		return providererr.New("openai", "chat.completions.create", kind, "", reqErr.Error(), reqErr.HTTPStatusCode, err)
	}
	return providererr.New("openai", "chat.completions.create", providererr.KindUnavailable, "", err.Error(), 0, err)
}
