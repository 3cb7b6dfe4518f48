// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, grounded on the teacher's features/model/bedrock
// adapter and narrowed to the non-streaming, non-tool-use request shape the
// pattern executors need.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/providererr"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// the adapter, satisfied by *bedrockruntime.Client in production and a fake
// in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient
	// DefaultModel is the model identifier used when a Request does not
	// set Model explicitly.
	DefaultModel string
	// MaxTokens caps completion length when a request does not specify
	// MaxTokens.
	MaxTokens int
	// Temperature is used when a request does not specify Temperature.
	Temperature float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New initializes a Bedrock-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
		case model.RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case model.RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		}
	}

	inferenceConfig := &brtypes.InferenceConfiguration{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		inferenceConfig.MaxTokens = &mt
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	if temp > 0 {
		t := temp
		inferenceConfig.Temperature = &t
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         &modelID,
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig,
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateResponse(out), nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) *model.Response {
	var text string
	if msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	usage := model.TokenUsage{}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return &model.Response{
		Text:       text,
		Usage:      usage,
		StopReason: string(out.StopReason),
	}
}

// classifyError maps a Bedrock SDK error into the shared provider error
// taxonomy, following the teacher's isRateLimited ThrottlingException/429
// detection.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := providererr.KindUnknown
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = providererr.KindRateLimited
		case "AccessDeniedException", "UnauthorizedException":
			kind = providererr.KindAuth
		case "ValidationException", "ModelNotReadyException":
			kind = providererr.KindInvalidRequest
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			kind = providererr.KindUnavailable
		}
		status := 0
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
			if status == 429 {
				kind = providererr.KindRateLimited
			}
		}
		return providererr.New("bedrock", "converse", kind, apiErr.ErrorCode(), apiErr.ErrorMessage(), status, err)
	}
	return providererr.New("bedrock", "converse", providererr.KindUnavailable, "", err.Error(), 0, err)
}
