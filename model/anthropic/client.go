// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API, grounded on the teacher's
// features/model/anthropic adapter but narrowed to the text-completion shape
// the pattern executors need.
package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/providererr"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter, satisfied by *sdk.MessageService in production and by a fake in
// tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New builds an Anthropic-backed model client. defaultModel is used when a
// Request does not set Model explicitly.
func New(msg MessagesClient, defaultModel string, defaultMaxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: defaultModel, maxTokens: defaultMaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport, reading ANTHROPIC_API_KEY from the environment via the SDK's
// option helpers when apiKey is empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	ac := sdk.NewClient(opts...)
	return New(&ac.Messages, defaultModel, 4096)
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var system string
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Text
		case model.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case model.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = sdk.Float(float64(req.TopP))
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(msg), nil
}

func translateResponse(msg *sdk.Message) *model.Response {
	var text string
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text += tb.Text
		}
	}
	return &model.Response{
		Text: text,
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
}

// classifyError maps an Anthropic SDK error into the shared provider error
// taxonomy so the retry/budget wrapper can decide retryability without
// knowing about Anthropic specifically.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := providererr.KindUnknown
		switch apiErr.StatusCode {
		case 401, 403:
			kind = providererr.KindAuth
		case 429:
			kind = providererr.KindRateLimited
		case 400, 404, 422:
			kind = providererr.KindInvalidRequest
		case 500, 502, 503, 504:
			kind = providererr.KindUnavailable
		}
		return providererr.New("anthropic", "messages.new", kind, "", apiErr.Message, apiErr.StatusCode, err)
	}
	return providererr.New("anthropic", "messages.new", providererr.KindUnavailable, "", err.Error(), 0, err)
}
